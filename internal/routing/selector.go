package routing

import (
	"context"
	"errors"
	"strings"

	"voice-platform/internal/agents"
	"voice-platform/pkg/logger"
)

// leastBusyCap is the fixed concurrency ceiling for LEAST_BUSY selection.
const leastBusyCap = 3

// SelectionContext carries the per-call inputs a strategy may consult.
type SelectionContext struct {
	// Rule is the owning rule; ROUND_ROBIN reads its TotalCallsRouted.
	Rule Rule

	PreferredLanguage string
	RequiredSkills    []string
}

// Selector picks one target from a rule's candidate list.
//
// Inputs must be pre-filtered to IsActive and sorted ascending by priority
// (TargetStore.ListActiveTargets guarantees both).
//
// A nil result with a nil error is a SelectionMiss: no eligible target; the
// engine moves on to the next rule or the fallback.
type Selector struct {
	Agents agents.StatusProvider
}

func NewSelector(provider agents.StatusProvider) *Selector {
	return &Selector{Agents: provider}
}

func (s *Selector) Select(ctx context.Context, targets []Target, strategy Strategy, sc SelectionContext) (*Target, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	switch strategy {
	case StrategySkillBased:
		return s.selectSkillBased(ctx, targets, sc)
	case StrategyLeastBusy:
		return s.selectLeastBusy(ctx, targets)
	case StrategyLongestIdle:
		return s.selectLongestIdle(ctx, targets)
	case StrategyRoundRobin:
		idx := int(sc.Rule.TotalCallsRouted % int64(len(targets)))
		return &targets[idx], nil
	case StrategyLanguage:
		return selectLanguage(targets, sc.PreferredLanguage), nil
	case StrategyPriority, StrategyDefault, "":
		// Already priority-sorted.
		return &targets[0], nil
	default:
		return nil, errors.New("routing: unknown strategy " + string(strategy))
	}
}

// selectSkillBased keeps the AVAILABLE agent with the highest skill match
// score that clears the target's MinSkillLevel/10 threshold. First
// encountered wins ties (stable).
func (s *Selector) selectSkillBased(ctx context.Context, targets []Target, sc SelectionContext) (*Target, error) {
	var best *Target
	bestScore := -1.0

	for i := range targets {
		t := &targets[i]
		if t.TargetType != TargetAgent {
			continue
		}
		st, ok := s.agentStatus(ctx, t.Destination)
		if !ok || st.Availability != agents.AvailabilityAvailable {
			continue
		}

		score := skillMatchScore(t.RequiredSkills, st)
		if score < float64(t.MinSkillLevel)/10.0 {
			continue
		}
		if score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best, nil
}

func skillMatchScore(required []string, st agents.Status) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, skill := range required {
		if st.HasSkill(skill) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// selectLeastBusy returns the first agent target under the concurrency cap.
func (s *Selector) selectLeastBusy(ctx context.Context, targets []Target) (*Target, error) {
	for i := range targets {
		t := &targets[i]
		if t.TargetType != TargetAgent {
			continue
		}
		st, ok := s.agentStatus(ctx, t.Destination)
		if !ok {
			continue
		}
		if st.ActiveCallCount < leastBusyCap {
			return t, nil
		}
	}
	return nil, nil
}

// selectLongestIdle picks the AVAILABLE agent with the oldest LastActiveAt.
// With no available agents it falls back to the first target in the list.
func (s *Selector) selectLongestIdle(ctx context.Context, targets []Target) (*Target, error) {
	var best *Target
	var bestStatus agents.Status

	for i := range targets {
		t := &targets[i]
		if t.TargetType != TargetAgent {
			continue
		}
		st, ok := s.agentStatus(ctx, t.Destination)
		if !ok || st.Availability != agents.AvailabilityAvailable {
			continue
		}
		if best == nil || st.LastActiveAt.Before(bestStatus.LastActiveAt) {
			best = t
			bestStatus = st
		}
	}
	if best != nil {
		return best, nil
	}
	return &targets[0], nil
}

func selectLanguage(targets []Target, language string) *Target {
	if language != "" {
		for i := range targets {
			for _, lang := range targets[i].RequiredLanguages {
				if lang == language {
					return &targets[i]
				}
			}
		}
	}
	return &targets[0]
}

// agentStatus swallows lookup errors: an unreadable agent is simply not a
// candidate, it must not abort selection. Destinations may carry the
// "agent:" dial scheme; the status key uses the bare id.
func (s *Selector) agentStatus(ctx context.Context, destination string) (agents.Status, bool) {
	agentID := strings.TrimPrefix(destination, "agent:")
	if s.Agents == nil {
		return agents.Status{}, false
	}
	st, err := s.Agents.GetStatus(ctx, agentID)
	if err != nil {
		if !errors.Is(err, agents.ErrUnknownAgent) {
			logger.From(ctx).Warn("agent status lookup failed", "agent_id", agentID, "err", err)
		}
		return agents.Status{}, false
	}
	return st, true
}
