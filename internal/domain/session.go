package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a tracking session. The only
// valid transitions are active→completed, active→failed, active→cancelled.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// SessionMetrics aggregates performance counters over a session's
// trackChanges calls.
type SessionMetrics struct {
	EntitiesProcessed   int           `json:"entitiesProcessed"`
	DetectionCalls      int           `json:"detectionCalls"`
	TotalDetectionTime  time.Duration `json:"totalDetectionTime"`
	EntitiesPerSecond   float64       `json:"entitiesPerSecond"`
	AvgDetectionLatency time.Duration `json:"avgDetectionLatency"`
}

// ChangeTrackingSession correlates the change-detection calls belonging to
// one synchronization run. In-memory only; lifetime bounded to the run.
type ChangeTrackingSession struct {
	SessionID            uuid.UUID      `json:"sessionId"`
	IntegrationID        uuid.UUID      `json:"integrationId"`
	EntityTypes          []string       `json:"entityTypes"`
	StartTime            time.Time      `json:"startTime"`
	EndTime              *time.Time     `json:"endTime,omitempty"`
	Status               SessionStatus  `json:"status"`
	TotalChangesDetected int            `json:"totalChangesDetected"`
	ChangesByType        map[string]int `json:"changesByType"`
	Metrics              SessionMetrics `json:"performanceMetrics"`
}
