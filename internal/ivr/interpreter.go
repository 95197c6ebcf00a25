package ivr

import (
	"context"
	"fmt"
	"time"

	"voice-platform/internal/conditions"
	"voice-platform/pkg/logger"

	"github.com/google/uuid"
)

// maxNodeHops bounds synchronous PLAY_MESSAGE/CONDITIONAL/SET_VARIABLE
// chains. A misconfigured cycle of non-suspending nodes must not spin the
// worker forever.
const maxNodeHops = 50

// Interpreter drives IVR sessions over flow graphs.
//
// Each public method is one synchronous resumption: the session "suspends"
// between calls as plain persisted state, not as a blocked goroutine. Events
// for one call must arrive in order; the append-only histories depend on it.
//
// Error policy: ConfigurationError (broken graph) is surfaced to the caller
// and aborts the attempt. Everything else is caught, logged, and degraded:
// a caller hears voicemail or a goodbye, never a dropped call.
type Interpreter struct {
	Flows    FlowStore
	Sessions SessionStore

	Now func() time.Time
}

func NewInterpreter(flows FlowStore, sessions SessionStore) *Interpreter {
	return &Interpreter{Flows: flows, Sessions: sessions, Now: time.Now}
}

// StartSession creates the per-call session and executes the entry node.
func (it *Interpreter) StartSession(ctx context.Context, flowID, workspaceID, callSID, callerPhone, language string) (Session, Action, error) {
	flow, err := it.Flows.Get(ctx, flowID)
	if err != nil {
		return Session{}, Action{}, err
	}
	if flow.WorkspaceID != workspaceID {
		return Session{}, Action{}, ErrFlowNotFound
	}
	if err := flow.Validate(); err != nil {
		return Session{}, Action{}, err
	}

	if language == "" {
		language = flow.DefaultLanguage
	}
	sess := Session{
		SessionID:     uuid.NewString(),
		FlowID:        flow.FlowID,
		WorkspaceID:   workspaceID,
		CallSID:       callSID,
		CallerPhone:   callerPhone,
		Language:      language,
		CurrentNodeID: flow.EntryNodeID,
		NodeHistory:   []string{flow.EntryNodeID},
		Variables:     map[string]string{},
		Status:        SessionInProgress,
		StartedAt:     it.now(),
	}

	if err := it.Flows.RecordSessionStart(ctx, flow.FlowID); err != nil {
		logger.From(ctx).Warn("flow session counter update failed", "flow_id", flow.FlowID, "err", err)
	}

	action, err := it.executeChain(ctx, flow, &sess)
	if err != nil {
		return Session{}, Action{}, err
	}
	if err := it.Sessions.Save(ctx, sess); err != nil {
		return Session{}, Action{}, err
	}
	return sess, action, nil
}

// HandleInput resumes the session with caller input (DTMF digits or a
// decoded speech token).
func (it *Interpreter) HandleInput(ctx context.Context, callSID, userInput, inputType string) (action Action, err error) {
	defer it.recoverEntry(ctx, callSID, &action, &err)

	sess, flow, err := it.load(ctx, callSID)
	if err != nil {
		return Action{}, err
	}

	sess.InputHistory = append(sess.InputHistory, InputRecord{
		NodeID:    sess.CurrentNodeID,
		Input:     userInput,
		Type:      inputType,
		Timestamp: it.now(),
	})

	node, ok := flow.Node(sess.CurrentNodeID)
	if !ok {
		return Action{}, &ConfigurationError{FlowID: flow.FlowID, Detail: "session cursor at missing node " + sess.CurrentNodeID}
	}

	nextID := ""
	switch node.Type {
	case NodeMenu:
		nextID = node.Options[userInput]
	case NodeGatherInput:
		name := node.VariableName
		if name == "" {
			name = "user_input"
		}
		sess.Variables[name] = userInput
		nextID = node.NextNode
	default:
		nextID = node.NextNode
	}

	if nextID == "" {
		action, err = it.retryOrFail(ctx, flow, &sess, node, ActionInvalidInput)
	} else {
		action, err = it.transitionAndRun(ctx, flow, &sess, nextID)
	}
	if err != nil {
		return Action{}, err
	}
	if saveErr := it.Sessions.Save(ctx, sess); saveErr != nil {
		logger.From(ctx).Warn("session save failed", "call_sid", callSID, "err", saveErr)
	}
	return action, nil
}

// HandleTimeout resumes the session after the telephony layer's gather
// timed out with no input.
func (it *Interpreter) HandleTimeout(ctx context.Context, callSID string) (action Action, err error) {
	defer it.recoverEntry(ctx, callSID, &action, &err)

	sess, flow, err := it.load(ctx, callSID)
	if err != nil {
		return Action{}, err
	}

	sess.InputHistory = append(sess.InputHistory, InputRecord{
		NodeID:    sess.CurrentNodeID,
		Type:      "timeout",
		Timestamp: it.now(),
	})

	node, ok := flow.Node(sess.CurrentNodeID)
	if !ok {
		return Action{}, &ConfigurationError{FlowID: flow.FlowID, Detail: "session cursor at missing node " + sess.CurrentNodeID}
	}

	// Node-specific override first, then the generic retry path.
	if node.TimeoutNode != "" {
		action, err = it.transitionAndRun(ctx, flow, &sess, node.TimeoutNode)
	} else {
		action, err = it.retryOrFail(ctx, flow, &sess, node, ActionTimeout)
	}
	if err != nil {
		return Action{}, err
	}
	if saveErr := it.Sessions.Save(ctx, sess); saveErr != nil {
		logger.From(ctx).Warn("session save failed", "call_sid", callSID, "err", saveErr)
	}
	return action, nil
}

// ResumeWebhook transitions past a WEBHOOK node once the facade has executed
// the request. WEBHOOK nodes never transition themselves.
func (it *Interpreter) ResumeWebhook(ctx context.Context, callSID string) (Action, error) {
	sess, flow, err := it.load(ctx, callSID)
	if err != nil {
		return Action{}, err
	}

	node, ok := flow.Node(sess.CurrentNodeID)
	if !ok {
		return Action{}, &ConfigurationError{FlowID: flow.FlowID, Detail: "session cursor at missing node " + sess.CurrentNodeID}
	}
	if node.Type != NodeWebhook {
		return Action{}, fmt.Errorf("ivr: session %s is not suspended on a webhook node", callSID)
	}

	var action Action
	if node.NextNode == "" {
		action = it.finalize(ctx, flow, &sess, ExitCompleted, "")
	} else {
		action, err = it.transitionAndRun(ctx, flow, &sess, node.NextNode)
		if err != nil {
			return Action{}, err
		}
	}
	if saveErr := it.Sessions.Save(ctx, sess); saveErr != nil {
		logger.From(ctx).Warn("session save failed", "call_sid", callSID, "err", saveErr)
	}
	return action, nil
}

// EndSession finalizes the session explicitly (facade-driven: hangup,
// transfer completion, operator teardown).
func (it *Interpreter) EndSession(ctx context.Context, callSID, exitReason, transferredTo string) (Session, error) {
	sess, flow, err := it.load(ctx, callSID)
	if err != nil {
		return Session{}, err
	}
	it.finalize(ctx, flow, &sess, exitReason, transferredTo)
	if saveErr := it.Sessions.Save(ctx, sess); saveErr != nil {
		logger.From(ctx).Warn("session save failed", "call_sid", callSID, "err", saveErr)
	}
	return sess, nil
}

func (it *Interpreter) load(ctx context.Context, callSID string) (Session, Flow, error) {
	sess, err := it.Sessions.Get(ctx, callSID)
	if err != nil {
		return Session{}, Flow{}, err
	}
	if sess.Status != SessionInProgress {
		return Session{}, Flow{}, fmt.Errorf("ivr: session for call %s already %s", callSID, sess.Status)
	}
	flow, err := it.Flows.Get(ctx, sess.FlowID)
	if err != nil {
		return Session{}, Flow{}, err
	}
	return sess, flow, nil
}

// transitionAndRun moves the cursor to nextID and executes from there.
func (it *Interpreter) transitionAndRun(ctx context.Context, flow Flow, sess *Session, nextID string) (Action, error) {
	if _, ok := flow.Node(nextID); !ok {
		return Action{}, &ConfigurationError{FlowID: flow.FlowID, Detail: "transition to missing node " + nextID}
	}
	sess.CurrentNodeID = nextID
	sess.NodeHistory = append(sess.NodeHistory, nextID)
	return it.executeChain(ctx, flow, sess)
}

// retryOrFail implements the shared invalid-input / timeout policy:
// exhausted retries go to the error node or abandon the session; otherwise
// the current node is re-emitted without advancing the cursor.
func (it *Interpreter) retryOrFail(ctx context.Context, flow Flow, sess *Session, node Node, kind ActionType) (Action, error) {
	rc := sess.retryCount()
	if rc >= flow.MaxRetries {
		if flow.ErrorNodeID != "" {
			return it.transitionAndRun(ctx, flow, sess, flow.ErrorNodeID)
		}
		return it.finalize(ctx, flow, sess, ExitMaxRetriesExceeded, ""), nil
	}

	// Record the stuck attempt; the cursor stays put.
	sess.NodeHistory = append(sess.NodeHistory, sess.CurrentNodeID)

	msg := flow.InvalidInputMessage
	if kind == ActionTimeout {
		msg = flow.TimeoutMessage
	}
	action := it.gatherAction(flow, *sess, node)
	action.Type = kind
	action.RetryCount = rc + 1
	if msg != "" {
		action.Prompts = append([]string{msg}, action.Prompts...)
	}
	return action, nil
}

// executeChain runs the current node and follows synchronous
// PLAY_MESSAGE/CONDITIONAL/SET_VARIABLE chains until a suspending or
// terminal node, collecting play prompts along the way.
func (it *Interpreter) executeChain(ctx context.Context, flow Flow, sess *Session) (Action, error) {
	var prompts []string

	advance := func(nextID string) error {
		if _, ok := flow.Node(nextID); !ok {
			return &ConfigurationError{FlowID: flow.FlowID, Detail: "transition to missing node " + nextID}
		}
		sess.CurrentNodeID = nextID
		sess.NodeHistory = append(sess.NodeHistory, nextID)
		return nil
	}

	for hops := 0; ; hops++ {
		if hops >= maxNodeHops {
			logger.From(ctx).Error("node hop limit exceeded, flow likely cyclic",
				"flow_id", flow.FlowID, "call_sid", sess.CallSID, "node_id", sess.CurrentNodeID)
			action := it.finalize(ctx, flow, sess, ExitHopLimitExceeded, "")
			action.Prompts = append(prompts, action.Prompts...)
			return action, nil
		}

		node, ok := flow.Node(sess.CurrentNodeID)
		if !ok {
			return Action{}, &ConfigurationError{FlowID: flow.FlowID, Detail: "session cursor at missing node " + sess.CurrentNodeID}
		}

		switch node.Type {
		case NodeMenu, NodeGatherInput:
			action := it.gatherAction(flow, *sess, node)
			action.Prompts = append(prompts, action.Prompts...)
			return action, nil

		case NodePlayMessage:
			if node.Message != "" {
				prompts = append(prompts, node.Message)
			}
			if node.NextNode == "" {
				action := it.finalize(ctx, flow, sess, ExitCompleted, "")
				action.Type = ActionPlayAndContinue
				action.Prompts = prompts
				action.AudioURL = node.AudioURL
				return action, nil
			}
			if err := advance(node.NextNode); err != nil {
				return Action{}, err
			}

		case NodeSetVariable:
			if node.VariableName != "" {
				sess.Variables[node.VariableName] = node.VariableValue
			} else {
				logger.From(ctx).Warn("set_variable node without variable_name",
					"flow_id", flow.FlowID, "node_id", sess.CurrentNodeID)
			}
			if node.NextNode == "" {
				action := it.finalize(ctx, flow, sess, ExitCompleted, "")
				action.Prompts = prompts
				return action, nil
			}
			if err := advance(node.NextNode); err != nil {
				return Action{}, err
			}

		case NodeConditional:
			branch := node.FalseNode
			if conditions.Evaluate(ctx, node.Condition, sess.bindings()) {
				branch = node.TrueNode
			}
			if branch == "" {
				action := it.finalize(ctx, flow, sess, ExitCompleted, "")
				action.Prompts = prompts
				return action, nil
			}
			if err := advance(branch); err != nil {
				return Action{}, err
			}

		case NodeTransfer:
			action := it.finalize(ctx, flow, sess, ExitTransferred, node.TransferTo)
			action.Prompts = appendPrompt(prompts, node.Message)
			return action, nil

		case NodeVoicemail:
			// Not terminal by itself: the caller records and hangs up, or a
			// following event ends the session.
			return Action{
				Type:     ActionVoicemail,
				NodeID:   sess.CurrentNodeID,
				Prompts:  appendPrompt(prompts, node.Message),
				AudioURL: node.AudioURL,
				Language: sess.Language,
			}, nil

		case NodeWebhook:
			method := node.WebhookMethod
			if method == "" {
				method = "POST"
			}
			return Action{
				Type:          ActionWebhook,
				NodeID:        sess.CurrentNodeID,
				Prompts:       prompts,
				WebhookURL:    node.WebhookURL,
				WebhookMethod: method,
				WebhookNext:   node.NextNode,
			}, nil

		case NodeEndCall:
			action := it.finalize(ctx, flow, sess, ExitCompleted, "")
			action.Prompts = appendPrompt(prompts, node.Message)
			return action, nil

		default:
			return Action{}, &ConfigurationError{
				FlowID: flow.FlowID,
				Detail: fmt.Sprintf("node %s has unknown type %q", sess.CurrentNodeID, node.Type),
			}
		}
	}
}

// gatherAction re-emits a MENU/GATHER_INPUT node's collection settings.
func (it *Interpreter) gatherAction(flow Flow, sess Session, node Node) Action {
	timeout := node.TimeoutSeconds
	if timeout <= 0 {
		timeout = flow.TimeoutSeconds
	}
	valid := node.ValidInputs
	if node.Type == NodeMenu && len(valid) == 0 {
		for input := range node.Options {
			valid = append(valid, input)
		}
	}
	return Action{
		Type:           ActionGatherInput,
		NodeID:         sess.CurrentNodeID,
		Prompts:        promptList(node.Message),
		AudioURL:       node.AudioURL,
		Language:       sess.Language,
		InputType:      node.InputType,
		NumDigits:      node.NumDigits,
		FinishOnKey:    node.FinishOnKey,
		ValidInputs:    valid,
		TimeoutSeconds: timeout,
	}
}

// finalize ends the session and folds its duration into the flow
// aggregates. Returns the end_call or transfer action.
func (it *Interpreter) finalize(ctx context.Context, flow Flow, sess *Session, exitReason, transferredTo string) Action {
	now := it.now()
	sess.ExitReason = exitReason
	sess.TransferredTo = transferredTo
	if exitReason == ExitCompleted {
		sess.Status = SessionCompleted
	} else {
		sess.Status = SessionAbandoned
	}
	sess.EndedAt = &now
	sess.DurationSeconds = int(now.Sub(sess.StartedAt).Seconds())
	if sess.DurationSeconds < 0 {
		sess.DurationSeconds = 0
	}

	if err := it.Flows.RecordSessionEnd(ctx, flow.FlowID, sess.Status == SessionCompleted, float64(sess.DurationSeconds)); err != nil {
		logger.From(ctx).Warn("flow aggregate update failed", "flow_id", flow.FlowID, "err", err)
	}

	if exitReason == ExitTransferred {
		return Action{
			Type:        ActionTransfer,
			NodeID:      sess.CurrentNodeID,
			TransferTo:  transferredTo,
			EndsSession: true,
			ExitReason:  exitReason,
		}
	}
	return Action{
		Type:        ActionEndCall,
		NodeID:      sess.CurrentNodeID,
		EndsSession: true,
		ExitReason:  exitReason,
	}
}

// recoverEntry is the last line of defense for the resumable entry points:
// a panic abandons the session and hands the telephony layer a hangup.
func (it *Interpreter) recoverEntry(ctx context.Context, callSID string, action *Action, err *error) {
	p := recover()
	if p == nil {
		return
	}
	logger.From(ctx).Error("ivr panic recovered", "call_sid", callSID, "panic", fmt.Sprint(p))
	if sess, getErr := it.Sessions.Get(ctx, callSID); getErr == nil && sess.Status == SessionInProgress {
		now := it.now()
		sess.Status = SessionAbandoned
		sess.ExitReason = "internal_error"
		sess.EndedAt = &now
		_ = it.Sessions.Save(ctx, sess)
	}
	*action = Action{Type: ActionEndCall, EndsSession: true, ExitReason: "internal_error"}
	*err = nil
}

func (it *Interpreter) now() time.Time {
	if it.Now == nil {
		return time.Now()
	}
	return it.Now()
}

func promptList(msg string) []string {
	if msg == "" {
		return nil
	}
	return []string{msg}
}

func appendPrompt(prompts []string, msg string) []string {
	if msg == "" {
		return prompts
	}
	return append(prompts, msg)
}
