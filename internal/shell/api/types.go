package api

import "time"

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PortResponse is one port mapping of a container.
type PortResponse struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
}

// ContainerResponse is one container of a deployment.
type ContainerResponse struct {
	ServiceName string         `json:"service_name"`
	ContainerID string         `json:"container_id"`
	Image       string         `json:"image"`
	Status      string         `json:"status"`
	ExitCode    int            `json:"exit_code,omitempty"`
	Ports       []PortResponse `json:"ports,omitempty"`
}

// DeploymentResponse is the API representation of a deployment.
type DeploymentResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ManifestHash string              `json:"manifest_hash"`
	Status       string              `json:"status"`
	Variables    map[string]string   `json:"variables"`
	Containers   []ContainerResponse `json:"containers"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	StoppedAt    *time.Time          `json:"stopped_at,omitempty"`
}

// ListDeploymentsResponse is the deployment listing response.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// EventResponse is one deployment history event.
type EventResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ServiceName string    `json:"service_name,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListEventsResponse is the event listing response.
type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}
