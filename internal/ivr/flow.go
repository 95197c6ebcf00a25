package ivr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Flow is a reusable, versioned graph of interaction nodes.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Aggregate counters (TotalSessions, CompletedSessions, AbandonedSessions,
// AverageDurationSeconds) are relaxed-consistency analytics fields updated
// through FlowStore increment operations, never by in-process mutation.
type Flow struct {
	FlowID      string `json:"flow_id" db:"flow_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Name        string `json:"name" db:"name"`

	Nodes       map[string]Node `json:"nodes" db:"nodes"`
	EntryNodeID string          `json:"entry_node_id" db:"entry_node_id"`

	DefaultLanguage string `json:"default_language,omitempty" db:"default_language"`

	// MaxRetries bounds consecutive invalid inputs / timeouts at one node.
	MaxRetries     int `json:"max_retries" db:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds" db:"timeout_seconds"`

	InvalidInputMessage string `json:"invalid_input_message,omitempty" db:"invalid_input_message"`
	TimeoutMessage      string `json:"timeout_message,omitempty" db:"timeout_message"`

	// ErrorNodeID, when set, receives the session after retry exhaustion.
	ErrorNodeID string `json:"error_node_id,omitempty" db:"error_node_id"`

	Version     int        `json:"version" db:"version"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`

	TotalSessions          int64   `json:"total_sessions" db:"total_sessions"`
	CompletedSessions      int64   `json:"completed_sessions" db:"completed_sessions"`
	AbandonedSessions      int64   `json:"abandoned_sessions" db:"abandoned_sessions"`
	AverageDurationSeconds float64 `json:"average_duration_seconds" db:"average_duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Node returns the node for id; the bool mirrors map lookup.
func (f Flow) Node(id string) (Node, bool) {
	n, ok := f.Nodes[id]
	return n, ok
}

// Validate checks the graph invariants: a non-empty node set, a resolvable
// entry node, and every edge landing inside the flow. Cycles are legal
// (replay loops); dangling references are not.
func (f Flow) Validate() error {
	if f.WorkspaceID == "" {
		return errors.New("ivr: workspace_id required")
	}
	if len(f.Nodes) == 0 {
		return &ConfigurationError{FlowID: f.FlowID, Detail: "flow has no nodes"}
	}
	if f.EntryNodeID == "" {
		return &ConfigurationError{FlowID: f.FlowID, Detail: "entry_node_id required"}
	}
	if _, ok := f.Nodes[f.EntryNodeID]; !ok {
		return &ConfigurationError{FlowID: f.FlowID, Detail: "entry node " + f.EntryNodeID + " not in graph"}
	}
	if f.ErrorNodeID != "" {
		if _, ok := f.Nodes[f.ErrorNodeID]; !ok {
			return &ConfigurationError{FlowID: f.FlowID, Detail: "error node " + f.ErrorNodeID + " not in graph"}
		}
	}
	for id, n := range f.Nodes {
		for _, ref := range n.references() {
			if _, ok := f.Nodes[ref]; !ok {
				return &ConfigurationError{
					FlowID: f.FlowID,
					Detail: fmt.Sprintf("node %s references missing node %s", id, ref),
				}
			}
		}
	}
	return nil
}

var (
	ErrFlowNotFound     = errors.New("ivr: flow not found")
	ErrSessionNotFound  = errors.New("ivr: session not found")
	ErrAlreadyPublished = errors.New("ivr: flow already published")
)

// FlowStore is the persistence contract for flows.
type FlowStore interface {
	Get(ctx context.Context, flowID string) (Flow, error)
	Save(ctx context.Context, f Flow) error

	// RecordSessionStart bumps TotalSessions atomically.
	RecordSessionStart(ctx context.Context, flowID string) error

	// RecordSessionEnd bumps Completed/AbandonedSessions and folds the
	// duration into AverageDurationSeconds with the incremental-mean
	// formula, all from one consistent snapshot.
	RecordSessionEnd(ctx context.Context, flowID string, completed bool, durationSeconds float64) error
}

// FlowService owns the flow lifecycle: create, update (version bump),
// publish (one-shot production stamp).
type FlowService struct {
	store FlowStore
	clock func() time.Time
}

func NewFlowService(store FlowStore) *FlowService {
	return &FlowService{store: store, clock: time.Now}
}

const (
	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 5
)

// Get returns the flow, enforcing workspace scoping.
func (s *FlowService) Get(ctx context.Context, workspaceID, flowID string) (Flow, error) {
	f, err := s.store.Get(ctx, flowID)
	if err != nil {
		return Flow{}, err
	}
	if f.WorkspaceID != workspaceID {
		return Flow{}, ErrFlowNotFound
	}
	return f, nil
}

func (s *FlowService) Create(ctx context.Context, f Flow) (Flow, error) {
	if f.MaxRetries <= 0 {
		f.MaxRetries = defaultMaxRetries
	}
	if f.TimeoutSeconds <= 0 {
		f.TimeoutSeconds = defaultTimeoutSeconds
	}
	if err := f.Validate(); err != nil {
		return Flow{}, err
	}
	now := s.clock().UTC()
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	f.PublishedAt = nil
	if err := s.store.Save(ctx, f); err != nil {
		return Flow{}, err
	}
	return f, nil
}

// Update replaces the definition and bumps Version; counters and the
// publish stamp are carried over from the stored row.
func (s *FlowService) Update(ctx context.Context, f Flow) (Flow, error) {
	if err := f.Validate(); err != nil {
		return Flow{}, err
	}
	current, err := s.store.Get(ctx, f.FlowID)
	if err != nil {
		return Flow{}, err
	}
	if current.WorkspaceID != f.WorkspaceID {
		return Flow{}, ErrFlowNotFound
	}

	f.Version = current.Version + 1
	f.CreatedAt = current.CreatedAt
	f.UpdatedAt = s.clock().UTC()
	f.PublishedAt = current.PublishedAt
	f.TotalSessions = current.TotalSessions
	f.CompletedSessions = current.CompletedSessions
	f.AbandonedSessions = current.AbandonedSessions
	f.AverageDurationSeconds = current.AverageDurationSeconds

	if err := s.store.Save(ctx, f); err != nil {
		return Flow{}, err
	}
	return f, nil
}

// Publish stamps PublishedAt exactly once.
func (s *FlowService) Publish(ctx context.Context, workspaceID, flowID string) (Flow, error) {
	f, err := s.store.Get(ctx, flowID)
	if err != nil {
		return Flow{}, err
	}
	if f.WorkspaceID != workspaceID {
		return Flow{}, ErrFlowNotFound
	}
	if f.PublishedAt != nil {
		return Flow{}, ErrAlreadyPublished
	}
	now := s.clock().UTC()
	f.PublishedAt = &now
	f.UpdatedAt = now
	if err := s.store.Save(ctx, f); err != nil {
		return Flow{}, err
	}
	return f, nil
}
