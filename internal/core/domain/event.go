package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Events
// =============================================================================

// EventType identifies what happened to a deployment.
type EventType string

const (
	EventCreated       EventType = "created"
	EventBuildStarted  EventType = "build_started"
	EventBuildFinished EventType = "build_finished"
	EventStarted       EventType = "started"
	EventStopped       EventType = "stopped"
	EventRemoved       EventType = "removed"
	EventFailed        EventType = "failed"
)

// DeploymentEvent is one entry in a deployment's history log.
type DeploymentEvent struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Type         EventType `json:"type"`
	ServiceName  string    `json:"service_name,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewDeploymentEvent creates an event for a deployment.
func NewDeploymentEvent(deploymentID string, eventType EventType, serviceName, message string) *DeploymentEvent {
	return &DeploymentEvent{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		Type:         eventType,
		ServiceName:  serviceName,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
}
