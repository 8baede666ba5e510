// Package deployment contains pure planning functions that turn a parsed
// manifest into an executable deploy plan. This is part of the Functional
// Core - the shell executes the plans via the Docker API.
package deployment

import (
	"time"

	"github.com/artpar/stackup/internal/core/compose"
)

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged    = "com.stackup.managed"
	LabelDeployment = "com.stackup.deployment"
	LabelProject    = "com.stackup.project"
	LabelService    = "com.stackup.service"
)

// =============================================================================
// Plan Types
// =============================================================================

// DeployPlan is the full ordered plan for one deployment: all image
// resolution steps first, then container plans in dependency order.
type DeployPlan struct {
	DeploymentID string
	Project      string
	Builds       []BuildStep
	Pulls        []PullStep
	Containers   []ContainerPlan
	Networks     []NetworkPlan
	Volumes      []VolumePlan
}

// BuildStep materializes one build section into a tagged image.
type BuildStep struct {
	ServiceName string
	ImageTag    string
	Context     string
	Dockerfile  string
	Target      string // named multi-stage target, empty for final stage
	Args        map[string]string
}

// PullStep resolves an image reference from a registry.
type PullStep struct {
	ServiceName string
	Image       string
}

// ContainerPlan describes one container to create and start.
type ContainerPlan struct {
	ServiceName   string
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Mounts        []MountPlan
	Networks      []string
	User          string
	WorkingDir    string
	RestartPolicy RestartPolicyPlan
	Resources     ResourcePlan
	HealthCheck   *HealthCheckPlan
	// WaitFor lists the dependencies that must reach their condition
	// before this container's process is started.
	WaitFor []compose.Dependency
}

// PortPlan describes one host:container port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// MountPlan describes one bind or named-volume mount.
type MountPlan struct {
	Source   string
	Target   string
	ReadOnly bool
}

// NetworkPlan describes one network to create for the deployment.
type NetworkPlan struct {
	Name   string
	Driver string
	Labels map[string]string
}

// VolumePlan describes one named volume to create for the deployment.
type VolumePlan struct {
	Name   string
	Driver string
	Labels map[string]string
}

// RestartPolicyPlan maps the manifest restart policy to Docker's form.
type RestartPolicyPlan struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourcePlan carries resource limits for a container.
type ResourcePlan struct {
	CPULimit    float64 // CPU cores
	MemoryLimit int64   // Bytes
}

// HealthCheckPlan carries a parsed health check.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}
