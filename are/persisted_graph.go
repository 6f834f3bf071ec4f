package are

import "context"

// ControlSource is how a PersistedStateMachine polls for a pending control
// message, satisfied by StateMachineExecutor.GetControlMessage.
type ControlSource func(operationID, lastControlID string) (ControlPayload, bool)

// Checkpointer receives one checkpoint per the reason table in spec.md
// §4.9, satisfied by a closure over StateMachineExecutor.persist (or a
// test double).
type Checkpointer func(reason Reason, session *Session, finished, next string)

// PersistedStateMachine extends StateMachine with the checkpointing and
// control-delivery semantics of spec.md §4.9, grounded on
// ark/are/graph.py's PersistedStateMachine/PersistedStateMachineSession.
type PersistedStateMachine struct {
	*StateMachine
	OperationID string
	checkpoint  Checkpointer
	pollControl ControlSource
}

// NewPersistedStateMachine wires a StateMachine to a Checkpointer and
// ControlSource for one operation.
func NewPersistedStateMachine(operationID string, checkpoint Checkpointer, pollControl ControlSource) *PersistedStateMachine {
	return &PersistedStateMachine{
		StateMachine: NewStateMachine(),
		OperationID:  operationID,
		checkpoint:   checkpoint,
		pollControl:  pollControl,
	}
}

// Start drives the session-loop of spec.md §4.9 to completion:
//
//  1. poll for a control message; if new, copy it into the session and
//     checkpoint with ReasonControl before the node ever sees it — so a
//     crash immediately after receipt does not lose it;
//  2. on first entry (INITED), checkpoint ReasonStarted and move to
//     RUNNING;
//  3. while RUNNING, run one step; checkpoint ReasonNodeChanged whenever
//     the current node changed or the node requested NeedsFlush;
//  4. return when status leaves RUNNING.
//
// The framework — not node code — clears session.ControlMessage once this
// step's node has seen it, per the Open Question resolution in
// SPEC_FULL.md §9: the node only ever sees a by-value copy for the
// duration of its own Process call.
func (p *PersistedStateMachine) Start(session *Session) error {
	if err := p.Prepare(session); err != nil {
		return err
	}

	opCtx, opSpan := StartOperationSpan(context.Background(), p.OperationID, StageStateMachine)
	defer opSpan.End()

	for {
		if p.pollControl != nil {
			if payload, fresh := p.pollControl(p.OperationID, session.LastControlID); fresh {
				session.ControlMessage = &payload
				session.LastControlID = payload.ControlID
				p.checkpoint(ReasonControl, session, "", "")
			}
		}

		if p.Status() == StatusInited {
			first := session.CurrentNode
			p.mu.Lock()
			p.status = StatusRunning
			p.mu.Unlock()
			p.checkpoint(ReasonStarted, session, "", first)
		}

		if p.Status() != StatusRunning {
			return nil
		}

		finished := session.CurrentNode
		controlForThisStep := session.ControlMessage
		session.ControlMessage = controlForThisStep // node reads it from session during Process

		_, nodeSpan := StartNodeSpan(opCtx, session.ID, finished)
		err := p.RunNext()
		nodeSpan.End()
		if err != nil {
			return err
		}

		// Framework-side clearing: the node had this step's Process call to
		// observe controlForThisStep; it does not persist past this point.
		session.ControlMessage = nil

		if session.CurrentNode != finished || session.NeedsFlush {
			p.checkpoint(ReasonNodeChanged, session, finished, session.CurrentNode)
			session.NeedsFlush = false
		}

		if p.Status() != StatusRunning {
			return nil
		}
	}
}
