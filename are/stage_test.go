package are

import (
	"reflect"
	"testing"
)

type mockJobAdapter struct {
	createCalls  []string
	resultCodes  map[string][]int // node name -> queue of codes to return, in order
	controlCalls int
}

func (a *mockJobAdapter) Create(jobDesc any, nodeName string, session *Session) (any, error) {
	a.createCalls = append(a.createCalls, nodeName)
	return nodeName + "-handle", nil
}

func (a *mockJobAdapter) GetResult(handles []any, nodeName string, session *Session) (int, error) {
	codes := a.resultCodes[nodeName]
	if len(codes) == 0 {
		return 0, nil
	}
	code := codes[0]
	a.resultCodes[nodeName] = codes[1:]
	return code, nil
}

func (a *mockJobAdapter) Control(handles []any, msg ControlPayload, session *Session) error {
	a.controlCalls++
	return nil
}

// TestStageBuilderNodeNamingMatchesScenario verifies the node graph shape
// against the literal S5 scenario in spec.md §8.
func TestStageBuilderNodeNamingMatchesScenario(t *testing.T) {
	adapter := &mockJobAdapter{resultCodes: map[string][]int{}}
	b := &StageBuilder{Adapter: adapter}

	plan := []StageSpec{
		{Name: "small", JobList: []any{map[string]int{"id": 1}, map[string]int{"id": 2}}},
		{Name: "all", JobList: []any{map[string]int{"id": 3}}},
	}
	sm, err := b.MakeStages(plan)
	if err != nil {
		t.Fatalf("make stages: %v", err)
	}

	wantNodes := []string{
		"small-job-1-sub-1", "small-job-1-sub-2", "small-job-2-sub-1",
		"small-verify-1", "all-job-2-sub-1", "all-job-3-sub-1",
		"all-verify-2", "terminal-end",
	}
	for _, name := range wantNodes {
		if sm.GetNode(name) == nil {
			t.Fatalf("expected node %q to exist", name)
		}
	}
}

// TestStageBuilderRunsExpectedSequence drives the built machine to
// completion and checks the job-adapter Create call order plus the
// verify-poll-until-0 behavior.
func TestStageBuilderRunsExpectedSequence(t *testing.T) {
	adapter := &mockJobAdapter{resultCodes: map[string][]int{
		"small-verify-1": {1, 0}, // poll once pending, then done
		"all-verify-2":   {0},
	}}
	b := &StageBuilder{Adapter: adapter}
	plan := []StageSpec{
		{Name: "small", JobList: []any{1, 2}},
		{Name: "all", JobList: []any{3}},
	}
	sm, err := b.MakeStages(plan)
	if err != nil {
		t.Fatalf("make stages: %v", err)
	}

	session := NewSession("op5", nil)
	if err := sm.Prepare(session); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := sm.Run(sm.RunNext); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sm.Status() != StatusFinished {
		t.Fatalf("expected FINISHED, got %s", sm.Status())
	}

	want := []string{"small-job-1-sub-1", "small-job-1-sub-2", "all-job-2-sub-1"}
	if !reflect.DeepEqual(adapter.createCalls, want) {
		t.Fatalf("create calls = %v, want %v", adapter.createCalls, want)
	}
}
