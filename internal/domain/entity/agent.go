package entity

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// InactiveAfter is how long an agent can go unseen before reads report it
// as inactive, regardless of the stored status.
const InactiveAfter = 5 * time.Minute

// Agent is a logical coding-agent instance observed through the proxy.
// One agent can span many requests; identity is keyed by the upstream
// client's session token.
type Agent struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	SessionID        string      `json:"session_id"`
	WorkingDirectory *string     `json:"working_directory"`
	Topic            *string     `json:"topic"`
	CreatedAt        time.Time   `json:"created_at"`
	LastSeenAt       time.Time   `json:"last_seen_at"`
	Status           AgentStatus `json:"status"`
}

// EffectiveStatus derives the status at read time: a stale last_seen_at
// overrides a stored "active".
func (a *Agent) EffectiveStatus(now time.Time) AgentStatus {
	if now.Sub(a.LastSeenAt) > InactiveAfter {
		return AgentStatusInactive
	}
	return a.Status
}
