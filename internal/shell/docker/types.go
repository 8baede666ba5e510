// Package docker provides a Docker client for image builds and container
// lifecycle management.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Build Types
// =============================================================================

// BuildSpec identifies which portion of a (possibly multi-stage) build to
// materialize into a tagged image.
type BuildSpec struct {
	Tag        string            // image tag to apply
	ContextDir string            // build context directory on the host
	Dockerfile string            // relative to ContextDir, "" for Dockerfile
	Target     string            // named multi-stage target, "" for final stage
	Args       map[string]string // build arguments
}

// BuildOutput receives incremental build progress lines.
type BuildOutput func(line string)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	Networks      []string
	WorkingDir    string
	User          string
	RestartPolicy RestartPolicy
	Resources     ResourceLimits
	HealthCheck   *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// ResourceLimits defines resource constraints.
type ResourceLimits struct {
	CPULimit    float64 // CPU cores
	MemoryLimit int64   // Bytes
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	State      string // "running", "exited", "created", etc.
	Health     string // "healthy", "unhealthy", "starting", ""
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// =============================================================================
// Network Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // "bridge", "overlay", etc.
	Labels map[string]string
}

// =============================================================================
// Volume Types
// =============================================================================

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.stackup.deployment=xyz"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Since      time.Time
	Until      time.Time
	Timestamps bool
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface.
type Client interface {
	// Image operations
	BuildImage(ctx context.Context, spec BuildSpec, output BuildOutput) error
	PullImage(image string, opts PullOptions) error
	ImageExists(image string) (bool, error)

	// Container operations
	CreateContainer(spec ContainerSpec) (containerID string, err error)
	StartContainer(containerID string) error
	StopContainer(containerID string, timeout *time.Duration) error
	RemoveContainer(containerID string, opts RemoveOptions) error
	InspectContainer(containerID string) (*ContainerInfo, error)
	ListContainers(opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error)
	WaitContainer(ctx context.Context, containerID string) (exitCode int64, err error)

	// Network operations
	CreateNetwork(spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(networkID string) error

	// Volume operations
	CreateVolume(spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(volumeName string, force bool) error

	// Health operations
	Ping() error
	Close() error
}
