package ivr

import (
	"context"
	"testing"
	"time"
)

func testFlow() Flow {
	return Flow{
		FlowID:      "flow-1",
		WorkspaceID: "ws-1",
		Name:        "main menu",
		EntryNodeID:         "menu",
		MaxRetries:          2,
		TimeoutSeconds:      5,
		InvalidInputMessage: "Sorry, that is not a valid option.",
		TimeoutMessage:      "We did not receive any input.",
		Nodes: map[string]Node{
			"menu": {
				Type:    NodeMenu,
				Message: "Press 1 for sales, 2 for support.",
				Options: map[string]string{"1": "sales_msg", "2": "support"},
			},
			"sales_msg": {
				Type:     NodePlayMessage,
				Message:  "Connecting you to sales.",
				NextNode: "sales_xfer",
			},
			"sales_xfer": {
				Type:       NodeTransfer,
				TransferTo: "queue:sales",
			},
			"support": {
				Type:     NodePlayMessage,
				Message:  "Support is closed today.",
				NextNode: "bye",
			},
			"bye": {
				Type:    NodeEndCall,
				Message: "Goodbye.",
			},
		},
	}
}

func newTestInterpreter(t *testing.T, f Flow) (*Interpreter, *MemoryFlowStore) {
	t.Helper()
	flows := NewMemoryFlowStore()
	if err := flows.Save(context.Background(), f); err != nil {
		t.Fatalf("save flow: %v", err)
	}
	it := NewInterpreter(flows, NewMemorySessionStore())
	it.Now = func() time.Time { return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) }
	return it, flows
}

func TestStartSessionEmitsEntryGather(t *testing.T) {
	it, _ := newTestInterpreter(t, testFlow())

	sess, action, err := it.StartSession(context.Background(), "flow-1", "ws-1", "CA1", "+15550001111", "en")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status != SessionInProgress || sess.CurrentNodeID != "menu" {
		t.Fatalf("unexpected session state: %+v", sess)
	}
	if action.Type != ActionGatherInput || action.NodeID != "menu" {
		t.Fatalf("unexpected action: %+v", action)
	}
	if len(action.Prompts) != 1 || action.Prompts[0] != "Press 1 for sales, 2 for support." {
		t.Fatalf("unexpected prompts: %v", action.Prompts)
	}
	if action.TimeoutSeconds != 5 {
		t.Fatalf("expected flow timeout 5, got %d", action.TimeoutSeconds)
	}
}

func TestStartSessionWorkspaceScoped(t *testing.T) {
	it, _ := newTestInterpreter(t, testFlow())

	if _, _, err := it.StartSession(context.Background(), "flow-1", "ws-other", "CA1", "", ""); err != ErrFlowNotFound {
		t.Fatalf("expected ErrFlowNotFound across workspaces, got %v", err)
	}
}

func TestMenuSelectionRunsChainToTransfer(t *testing.T) {
	it, _ := newTestInterpreter(t, testFlow())
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "+15550001111", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	action, err := it.HandleInput(ctx, "CA1", "1", "digits")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if action.Type != ActionTransfer {
		t.Fatalf("expected transfer, got %s", action.Type)
	}
	if action.TransferTo != "queue:sales" || !action.EndsSession {
		t.Fatalf("unexpected transfer action: %+v", action)
	}
	// The play message crossed on the way is carried as a prompt.
	if len(action.Prompts) != 1 || action.Prompts[0] != "Connecting you to sales." {
		t.Fatalf("unexpected prompts: %v", action.Prompts)
	}

	sess, err := it.Sessions.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("session get: %v", err)
	}
	if sess.Status != SessionAbandoned || sess.ExitReason != ExitTransferred {
		t.Fatalf("expected transferred session, got status=%s reason=%s", sess.Status, sess.ExitReason)
	}
	if sess.TransferredTo != "queue:sales" {
		t.Fatalf("TransferredTo = %q", sess.TransferredTo)
	}
}

func TestInvalidInputRetriesThenAbandons(t *testing.T) {
	it, flows := newTestInterpreter(t, testFlow())
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// First two invalid inputs re-prompt with an increasing retry count.
	for want := 1; want <= 2; want++ {
		action, err := it.HandleInput(ctx, "CA1", "3", "digits")
		if err != nil {
			t.Fatalf("HandleInput #%d: %v", want, err)
		}
		if action.Type != ActionInvalidInput {
			t.Fatalf("attempt %d: expected invalid_input, got %s", want, action.Type)
		}
		if action.RetryCount != want {
			t.Fatalf("attempt %d: RetryCount = %d", want, action.RetryCount)
		}
		if action.Prompts[0] != "Sorry, that is not a valid option." {
			t.Fatalf("attempt %d: prompts = %v", want, action.Prompts)
		}
	}

	// Third invalid input exhausts maxRetries=2 and ends the session.
	action, err := it.HandleInput(ctx, "CA1", "3", "digits")
	if err != nil {
		t.Fatalf("final HandleInput: %v", err)
	}
	if action.Type != ActionEndCall || !action.EndsSession {
		t.Fatalf("expected terminal end_call, got %+v", action)
	}
	if action.ExitReason != ExitMaxRetriesExceeded {
		t.Fatalf("exit reason = %q", action.ExitReason)
	}

	sess, _ := it.Sessions.Get(ctx, "CA1")
	if sess.Status != SessionAbandoned || sess.ExitReason != ExitMaxRetriesExceeded {
		t.Fatalf("session not abandoned: %+v", sess)
	}
	if len(sess.InputHistory) != 3 {
		t.Fatalf("expected 3 input records, got %d", len(sess.InputHistory))
	}

	f, _ := flows.Get(ctx, "flow-1")
	if f.AbandonedSessions != 1 || f.CompletedSessions != 0 {
		t.Fatalf("flow counters: completed=%d abandoned=%d", f.CompletedSessions, f.AbandonedSessions)
	}
}

func TestRetryExhaustionRoutesToErrorNode(t *testing.T) {
	f := testFlow()
	f.ErrorNodeID = "bye"
	it, _ := newTestInterpreter(t, f)
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := it.HandleInput(ctx, "CA1", "9", "digits"); err != nil {
			t.Fatalf("HandleInput: %v", err)
		}
	}

	action, err := it.HandleInput(ctx, "CA1", "9", "digits")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if action.Type != ActionEndCall {
		t.Fatalf("expected error node end_call, got %s", action.Type)
	}
	// Exhaustion went through the error node, not a bare abandon.
	if action.ExitReason != ExitCompleted {
		t.Fatalf("exit reason = %q", action.ExitReason)
	}
	if len(action.Prompts) != 1 || action.Prompts[0] != "Goodbye." {
		t.Fatalf("prompts = %v", action.Prompts)
	}
}

func TestTimeoutUsesNodeOverride(t *testing.T) {
	f := testFlow()
	menu := f.Nodes["menu"]
	menu.TimeoutNode = "support"
	f.Nodes["menu"] = menu
	it, _ := newTestInterpreter(t, f)
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	action, err := it.HandleTimeout(ctx, "CA1")
	if err != nil {
		t.Fatalf("HandleTimeout: %v", err)
	}
	if action.Type != ActionEndCall {
		t.Fatalf("expected chain through support to end_call, got %s", action.Type)
	}
	if len(action.Prompts) != 2 || action.Prompts[0] != "Support is closed today." {
		t.Fatalf("prompts = %v", action.Prompts)
	}
}

func TestTimeoutWithoutOverrideReprompts(t *testing.T) {
	it, _ := newTestInterpreter(t, testFlow())
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	action, err := it.HandleTimeout(ctx, "CA1")
	if err != nil {
		t.Fatalf("HandleTimeout: %v", err)
	}
	if action.Type != ActionTimeout || action.RetryCount != 1 {
		t.Fatalf("unexpected action: %+v", action)
	}
	if action.Prompts[0] != "We did not receive any input." {
		t.Fatalf("prompts = %v", action.Prompts)
	}
}

func TestGatherFeedsConditional(t *testing.T) {
	f := Flow{
		FlowID:      "flow-acct",
		WorkspaceID: "ws-1",
		Name:        "account lookup",
		EntryNodeID:    "gather",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		Nodes: map[string]Node{
			"gather": {
				Type:         NodeGatherInput,
				Message:      "Enter your account number.",
				InputType:    "digits",
				NumDigits:    4,
				VariableName: "account",
				NextNode:     "vip_check",
			},
			"vip_check": {
				Type:      NodeConditional,
				Condition: `account == "9999"`,
				TrueNode:  "vip",
				FalseNode: "std",
			},
			"vip": {Type: NodeTransfer, TransferTo: "queue:vip"},
			"std": {Type: NodeEndCall, Message: "Thank you."},
		},
	}
	it, _ := newTestInterpreter(t, f)
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-acct", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	action, err := it.HandleInput(ctx, "CA1", "9999", "digits")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if action.Type != ActionTransfer || action.TransferTo != "queue:vip" {
		t.Fatalf("expected vip transfer, got %+v", action)
	}

	sess, _ := it.Sessions.Get(ctx, "CA1")
	if sess.Variables["account"] != "9999" {
		t.Fatalf("variable not stored: %v", sess.Variables)
	}
}

func TestSetVariableChain(t *testing.T) {
	f := Flow{
		FlowID:      "flow-var",
		WorkspaceID: "ws-1",
		Name:        "tagging",
		EntryNodeID:    "tag",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		Nodes: map[string]Node{
			"tag": {
				Type:          NodeSetVariable,
				VariableName:  "department",
				VariableValue: "billing",
				NextNode:      "check",
			},
			"check": {
				Type:      NodeConditional,
				Condition: `department == "billing"`,
				TrueNode:  "msg",
				FalseNode: "msg",
			},
			"msg": {Type: NodePlayMessage, Message: "Billing hours are 9 to 5."},
		},
	}
	it, _ := newTestInterpreter(t, f)

	sess, action, err := it.StartSession(context.Background(), "flow-var", "ws-1", "CA1", "", "en")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// Play with no next node finishes the call at document end.
	if action.Type != ActionPlayAndContinue || !action.EndsSession {
		t.Fatalf("unexpected action: %+v", action)
	}
	if sess.Status != SessionCompleted || sess.ExitReason != ExitCompleted {
		t.Fatalf("expected completed session, got %+v", sess)
	}
	if sess.Variables["department"] != "billing" {
		t.Fatalf("variables = %v", sess.Variables)
	}
}

func TestHopLimitAbandonsCyclicFlow(t *testing.T) {
	f := Flow{
		FlowID:      "flow-loop",
		WorkspaceID: "ws-1",
		Name:        "loop",
		EntryNodeID:    "a",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		Nodes: map[string]Node{
			"a": {Type: NodePlayMessage, Message: "a", NextNode: "b"},
			"b": {Type: NodePlayMessage, Message: "b", NextNode: "a"},
		},
	}
	it, _ := newTestInterpreter(t, f)

	sess, action, err := it.StartSession(context.Background(), "flow-loop", "ws-1", "CA1", "", "en")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if action.Type != ActionEndCall || action.ExitReason != ExitHopLimitExceeded {
		t.Fatalf("expected hop limit end, got %+v", action)
	}
	if sess.Status != SessionAbandoned {
		t.Fatalf("session status = %s", sess.Status)
	}
}

func TestWebhookSuspendsUntilResumed(t *testing.T) {
	f := Flow{
		FlowID:      "flow-hook",
		WorkspaceID: "ws-1",
		Name:        "crm lookup",
		EntryNodeID:    "hook",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		Nodes: map[string]Node{
			"hook": {
				Type:       NodeWebhook,
				WebhookURL: "https://crm.example.com/lookup",
				NextNode:   "bye",
			},
			"bye": {Type: NodeEndCall, Message: "Goodbye."},
		},
	}
	it, _ := newTestInterpreter(t, f)
	ctx := context.Background()

	_, action, err := it.StartSession(ctx, "flow-hook", "ws-1", "CA1", "", "en")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if action.Type != ActionWebhook || action.WebhookMethod != "POST" {
		t.Fatalf("unexpected action: %+v", action)
	}
	if action.WebhookNext != "bye" {
		t.Fatalf("WebhookNext = %q", action.WebhookNext)
	}

	// The webhook node does not transition on its own.
	sess, _ := it.Sessions.Get(ctx, "CA1")
	if sess.CurrentNodeID != "hook" || sess.Status != SessionInProgress {
		t.Fatalf("session moved before resume: %+v", sess)
	}

	action, err = it.ResumeWebhook(ctx, "CA1")
	if err != nil {
		t.Fatalf("ResumeWebhook: %v", err)
	}
	if action.Type != ActionEndCall || action.ExitReason != ExitCompleted {
		t.Fatalf("unexpected resume action: %+v", action)
	}
}

func TestEndSessionCallerHangup(t *testing.T) {
	it, flows := newTestInterpreter(t, testFlow())
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sess, err := it.EndSession(ctx, "CA1", ExitCallerHangup, "")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if sess.Status != SessionAbandoned || sess.ExitReason != ExitCallerHangup {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.EndedAt == nil || sess.DurationSeconds < 0 {
		t.Fatalf("missing end stamp: %+v", sess)
	}

	f, _ := flows.Get(ctx, "flow-1")
	if f.TotalSessions != 1 || f.AbandonedSessions != 1 {
		t.Fatalf("flow counters: %+v", f)
	}
}

func TestCompletedSessionUpdatesFlowAggregates(t *testing.T) {
	it, flows := newTestInterpreter(t, testFlow())
	ctx := context.Background()

	if _, _, err := it.StartSession(ctx, "flow-1", "ws-1", "CA1", "", "en"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	action, err := it.HandleInput(ctx, "CA1", "2", "digits")
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if action.Type != ActionEndCall || action.ExitReason != ExitCompleted {
		t.Fatalf("unexpected action: %+v", action)
	}
	if len(action.Prompts) != 2 {
		t.Fatalf("prompts = %v", action.Prompts)
	}

	f, _ := flows.Get(ctx, "flow-1")
	if f.CompletedSessions != 1 || f.AbandonedSessions != 0 {
		t.Fatalf("flow counters: completed=%d abandoned=%d", f.CompletedSessions, f.AbandonedSessions)
	}
	if f.AverageDurationSeconds < 0 {
		t.Fatalf("average duration = %f", f.AverageDurationSeconds)
	}

	// Events after the session ended are rejected, not replayed.
	if _, err := it.HandleInput(ctx, "CA1", "2", "digits"); err == nil {
		t.Fatal("expected error for ended session")
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		history []string
		current string
		want    int
	}{
		{nil, "a", 0},
		{[]string{"a"}, "a", 0},
		{[]string{"a", "a"}, "a", 1},
		{[]string{"x", "a", "a", "a"}, "a", 2},
		{[]string{"a", "b"}, "a", 0},
	}
	for _, c := range cases {
		s := Session{CurrentNodeID: c.current, NodeHistory: c.history}
		if got := s.retryCount(); got != c.want {
			t.Errorf("retryCount(%v, %s) = %d, want %d", c.history, c.current, got, c.want)
		}
	}
}
