// Package domain holds the entities shared between core and shell layers.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrEmptyName         = errors.New("deployment name is empty")
	ErrEmptyManifest     = errors.New("deployment manifest is empty")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusPending  DeploymentStatus = "pending"
	StatusBuilding DeploymentStatus = "building"
	StatusStarting DeploymentStatus = "starting"
	StatusRunning  DeploymentStatus = "running"
	StatusStopping DeploymentStatus = "stopping"
	StatusStopped  DeploymentStatus = "stopped"
	StatusFailed   DeploymentStatus = "failed"
)

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:  {StatusBuilding, StatusFailed},
	StatusBuilding: {StatusStarting, StatusFailed},
	StatusStarting: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopping, StatusFailed},
	StatusStopping: {StatusStopped, StatusFailed},
	StatusStopped:  {StatusBuilding, StatusStarting},
	StatusFailed:   {StatusBuilding, StatusStarting},
}

// CanTransition reports whether a move from to is allowed.
func CanTransition(from, to DeploymentStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Container Info
// =============================================================================

// PortMapping represents a port mapping.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"` // tcp, udp
}

// ContainerInfo represents information about a container of a deployment.
type ContainerInfo struct {
	ID          string        `json:"id"`
	ServiceName string        `json:"service_name"`
	Image       string        `json:"image"`
	Status      string        `json:"status"`
	ExitCode    int           `json:"exit_code,omitempty"`
	Ports       []PortMapping `json:"ports,omitempty"`
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment represents one up-to-down lifecycle of a manifest.
// The manifest snapshot is read once at creation and never mutated afterwards.
type Deployment struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Manifest     string            `json:"manifest"`
	ManifestHash string            `json:"manifest_hash"`
	Status       DeploymentStatus  `json:"status"`
	Variables    map[string]string `json:"variables,omitempty"`
	Containers   []ContainerInfo   `json:"containers,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	StoppedAt    *time.Time        `json:"stopped_at,omitempty"`
}

// NewDeployment creates a pending deployment from a manifest snapshot.
func NewDeployment(name, manifest string, variables map[string]string) (*Deployment, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(manifest) == "" {
		return nil, ErrEmptyManifest
	}

	now := time.Now().UTC()
	return &Deployment{
		ID:           uuid.NewString(),
		Name:         name,
		Manifest:     manifest,
		ManifestHash: ManifestHash(manifest),
		Status:       StatusPending,
		Variables:    variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves the deployment to the given status, updating timestamps.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if !CanTransition(d.Status, to) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	d.Status = to
	d.UpdatedAt = now

	switch to {
	case StatusRunning:
		d.StartedAt = &now
	case StatusStopped:
		d.StoppedAt = &now
	}

	return nil
}

// Fail marks the deployment failed with the given reason. Always allowed.
func (d *Deployment) Fail(reason string) {
	d.Status = StatusFailed
	d.ErrorMessage = reason
	d.UpdatedAt = time.Now().UTC()
}

// ManifestHash returns the hex SHA-256 of a manifest snapshot.
func ManifestHash(manifest string) string {
	sum := sha256.Sum256([]byte(manifest))
	return hex.EncodeToString(sum[:])
}
