package are

import "fmt"

// JobAdapter is user-supplied business logic for one staged job: creating
// work, polling its result, and delivering operator control. Grounded on
// ark/are/stage.py's JobAdapter.
type JobAdapter interface {
	// Create starts jobDesc's work, returning an opaque handle appended to
	// session.HandleList, or nil if there is nothing more to create (ends
	// the machine early).
	Create(jobDesc any, nodeName string, session *Session) (handle any, err error)

	// GetResult polls the outcome for handles. Return code policy (spec.md
	// §4.10): 0 clears handles and advances; <0 aborts (END); >0 re-enters
	// the VerifyNode on the next tick.
	GetResult(handles []any, nodeName string, session *Session) (code int, err error)

	// Control delivers a pending control payload to the adapter. Called
	// once per distinct control id, before GetResult.
	Control(handles []any, msg ControlPayload, session *Session) error
}

// JobNode creates one job and advances to nextNode, or to endNode if
// Create returns a nil handle. Non-reentrant, per spec.md §4.10.
type JobNode struct {
	NodeName string
	JobDesc  any
	Adapter  JobAdapter
	NextNode string
	EndNode  string
}

func (n *JobNode) Name() string      { return n.NodeName }
func (n *JobNode) Reentrant() bool   { return false }
func (n *JobNode) Check(*Session) bool { return true }

func (n *JobNode) Process(session *Session) (string, error) {
	handle, err := n.Adapter.Create(n.JobDesc, n.NodeName, session)
	if err != nil {
		return "", newErr(KindFailedRequest, "JobNode.Process", err)
	}
	if handle == nil {
		return n.EndNode, nil
	}
	session.HandleList = append(session.HandleList, handle)
	return n.NextNode, nil
}

// JobEndNode advances to the stage's VerifyNode once every sibling JobNode
// has run. Reentrant, per spec.md §4.10.
type JobEndNode struct {
	NodeName   string
	VerifyNode string
}

func (n *JobEndNode) Name() string        { return n.NodeName }
func (n *JobEndNode) Reentrant() bool     { return true }
func (n *JobEndNode) Check(*Session) bool { return true }
func (n *JobEndNode) Process(*Session) (string, error) { return n.VerifyNode, nil }

// VerifyNode delivers any pending control to the adapter, then polls
// GetResult and applies the return-code policy. Reentrant, per spec.md
// §4.10.
type VerifyNode struct {
	NodeName string
	Adapter  JobAdapter
	NextStage string // next stage's first JobNode, or an EndNode name
}

func (n *VerifyNode) Name() string        { return n.NodeName }
func (n *VerifyNode) Reentrant() bool     { return true }
func (n *VerifyNode) Check(*Session) bool { return true }

func (n *VerifyNode) Process(session *Session) (string, error) {
	if session.ControlMessage != nil {
		if err := n.Adapter.Control(session.HandleList, *session.ControlMessage, session); err != nil {
			return "", newErr(KindFailedRequest, "VerifyNode.Process", err)
		}
		session.ControlMessage = nil
	}

	code, err := n.Adapter.GetResult(session.HandleList, n.NodeName, session)
	if err != nil {
		return "", newErr(KindFailedRequest, "VerifyNode.Process", err)
	}

	switch {
	case code == 0:
		session.HandleList = nil
		return n.NextStage, nil
	case code < 0:
		return EndNodeName, nil
	default:
		session.NeedsFlush = true
		return n.NodeName, nil
	}
}

// EndNode always finishes the machine. Grounded on ark/are/stage.py's
// EndNode.
type EndNode struct {
	NodeName string
}

func (n *EndNode) Name() string        { return n.NodeName }
func (n *EndNode) Reentrant() bool     { return true }
func (n *EndNode) Check(*Session) bool { return true }
func (n *EndNode) Process(*Session) (string, error) { return EndNodeName, nil }

// StageSpec is one declarative batch: a named stage and its list of job
// descriptions.
type StageSpec struct {
	Name    string
	JobList []any
}

// StageBuilder composes a StateMachine from a list of StageSpec, per
// spec.md §4.10's naming convention: "<stage>-job-<i>-sub-<j>" for JobNodes
// ("i" is the stage's 1-based position, "j" the 1-based job position within
// it) and "<stage>-verify-<i>" for VerifyNodes. Grounded line-for-line on
// ark/are/stage.py's StageBuilder.
type StageBuilder struct {
	Adapter JobAdapter
}

// jobStageName and verifyStageName mirror
// ark/are/stage.py's _get_job_stage_name/_get_verify_stage_name.
func jobStageName(stage string, stageIdx, jobIdx int) string {
	return fmt.Sprintf("%s-job-%d-sub-%d", stage, stageIdx, jobIdx)
}

func verifyStageName(stage string, stageIdx int) string {
	return fmt.Sprintf("%s-verify-%d", stage, stageIdx)
}

// MakeStages builds a *StateMachine implementing the plan: for each stage,
// one JobNode per job (chained sub-1, sub-2, ...), one JobEndNode advancing
// to the stage's VerifyNode, and one VerifyNode advancing to the next
// stage's first JobNode (or to a terminal EndNode after the last stage).
//
// Node naming follows ark/are/stage.py's StageBuilder exactly: a single
// counter "i" runs across the whole plan. A stage's job nodes are named
// "<stage>-job-<i>-sub-<j>" (j = 1-based job position); its JobEndNode
// reuses the same counter incremented once, "<stage>-job-<i+1>-sub-1"; that
// incremented value becomes "i" for the next stage's job nodes. VerifyNode
// names use the stage's own 1-based position instead:
// "<stage>-verify-<stage_position>".
func (b *StageBuilder) MakeStages(plan []StageSpec) (*StateMachine, error) {
	sm := NewStateMachine()
	const terminalName = "terminal-end"

	nodeCounter := 1
	for stageIdx, stage := range plan {
		stagePosition := stageIdx + 1
		if len(stage.JobList) == 0 {
			return nil, newErr(KindInvalidOperation, "StageBuilder.MakeStages", fmt.Errorf("stage %q has no jobs", stage.Name))
		}

		jobGroupIndex := nodeCounter
		verifyName := verifyStageName(stage.Name, stagePosition)
		jobEndName := jobStageName(stage.Name, jobGroupIndex+1, 1)

		for jobIdx, desc := range stage.JobList {
			name := jobStageName(stage.Name, jobGroupIndex, jobIdx+1)
			next := jobEndName
			if jobIdx+1 < len(stage.JobList) {
				next = jobStageName(stage.Name, jobGroupIndex, jobIdx+2)
			}
			if err := sm.AddNode(&JobNode{NodeName: name, JobDesc: desc, Adapter: b.Adapter, NextNode: next, EndNode: terminalName}); err != nil {
				return nil, err
			}
		}

		if err := sm.AddNode(&JobEndNode{NodeName: jobEndName, VerifyNode: verifyName}); err != nil {
			return nil, err
		}
		nodeCounter = jobGroupIndex + 1

		nextStageEntry := terminalName
		if stageIdx+1 < len(plan) {
			nextStage := plan[stageIdx+1]
			if len(nextStage.JobList) > 0 {
				nextStageEntry = jobStageName(nextStage.Name, nodeCounter, 1)
			}
		}
		if err := sm.AddNode(&VerifyNode{NodeName: verifyName, Adapter: b.Adapter, NextStage: nextStageEntry}); err != nil {
			return nil, err
		}
	}

	if err := sm.AddNode(&EndNode{NodeName: terminalName}); err != nil {
		return nil, err
	}
	return sm, nil
}
