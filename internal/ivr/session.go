package ivr

import (
	"context"
	"time"
)

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Exit reasons written by the interpreter. Free-form strings are allowed
// for facade-supplied reasons (e.g. caller_hangup).
const (
	ExitCompleted          = "completed"
	ExitTransferred        = "transferred"
	ExitMaxRetriesExceeded = "max_retries_exceeded"
	ExitHopLimitExceeded   = "hop_limit_exceeded"
	ExitCallerHangup       = "caller_hangup"
)

// InputRecord is one caller input as it arrived.
type InputRecord struct {
	NodeID    string    `json:"node_id"`
	Input     string    `json:"input"`
	Type      string    `json:"type"` // digits | speech | timeout
	Timestamp time.Time `json:"timestamp"`
}

// Session is the live, per-call instantiation of a flow.
//
// Ownership: exactly one call owns a session for its lifetime, and that
// call's events (input, timeout, hangup) must be delivered in arrival
// order; NodeHistory and InputHistory are append-only and depend on it.
// Sessions of different calls never share state.
//
// Invariant: CurrentNodeID always references a node in the parent flow;
// a violation is a fatal ConfigurationError, not a recoverable condition.
type Session struct {
	SessionID   string `json:"session_id"`
	FlowID      string `json:"flow_id"`
	WorkspaceID string `json:"workspace_id"`
	CallSID     string `json:"call_sid"`
	CallerPhone string `json:"caller_phone,omitempty"`
	Language    string `json:"language,omitempty"`

	CurrentNodeID string `json:"current_node_id"`

	// NodeHistory is append-only; trailing repeats of the current node
	// beyond its arrival entry are the retry count.
	NodeHistory []string `json:"node_history"`

	InputHistory []InputRecord `json:"input_history,omitempty"`

	// Variables are written by SET_VARIABLE and GATHER_INPUT nodes and read
	// by CONDITIONAL nodes.
	Variables map[string]string `json:"variables,omitempty"`

	Status        SessionStatus `json:"status"`
	ExitReason    string        `json:"exit_reason,omitempty"`
	TransferredTo string        `json:"transferred_to,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

// retryCount is the number of consecutive trailing NodeHistory entries
// equal to the current node, beyond the arrival entry itself: how many
// times in a row the caller has been stuck here.
func (s Session) retryCount() int {
	trailing := 0
	for i := len(s.NodeHistory) - 1; i >= 0; i-- {
		if s.NodeHistory[i] != s.CurrentNodeID {
			break
		}
		trailing++
	}
	if trailing <= 1 {
		return 0
	}
	return trailing - 1
}

func (s Session) bindings() map[string]any {
	b := make(map[string]any, len(s.Variables)+2)
	for k, v := range s.Variables {
		b[k] = v
	}
	b["caller_phone"] = s.CallerPhone
	b["language"] = s.Language
	return b
}

// SessionStore is the persistence contract for live sessions, keyed by the
// owning call SID.
type SessionStore interface {
	Get(ctx context.Context, callSID string) (Session, error)
	Save(ctx context.Context, s Session) error
}
