package agents

import (
	"context"
	"errors"
	"time"
)

// StatusProvider is the minimal read interface the routing core needs for
// agent liveness. Presence/workload tracking is owned elsewhere; the core
// only reads point-in-time snapshots.
//
// IMPORTANT:
// - Implementations must be cheap; the selector calls GetStatus once per
//   candidate target on the hot path of every inbound call.
// - A missing agent is not an error: return (Status{}, ErrUnknownAgent).
type StatusProvider interface {
	GetStatus(ctx context.Context, agentID string) (Status, error)
}

var ErrUnknownAgent = errors.New("agents: unknown agent")

// Availability is the agent's presence state as reported by the tracker.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
	AvailabilityOffline   Availability = "offline"
)

// Status is a point-in-time agent snapshot.
type Status struct {
	AgentID      string       `json:"agent_id"`
	Availability Availability `json:"availability"`

	// Skills are free-form tags matched against a target's required skills.
	Skills []string `json:"skills,omitempty"`

	// Languages the agent can handle.
	Languages []string `json:"languages,omitempty"`

	// LastActiveAt drives the LONGEST_IDLE strategy (oldest wins).
	LastActiveAt time.Time `json:"last_active_at"`

	// ActiveCallCount drives the LEAST_BUSY concurrency cap.
	ActiveCallCount int `json:"active_call_count"`
}

// HasSkill reports whether the snapshot carries the given skill tag.
func (s Status) HasSkill(skill string) bool {
	for _, have := range s.Skills {
		if have == skill {
			return true
		}
	}
	return false
}
