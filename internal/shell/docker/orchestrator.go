package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/artpar/stackup/internal/core/compose"
	coredeployment "github.com/artpar/stackup/internal/core/deployment"
	"github.com/artpar/stackup/internal/core/domain"
)

// =============================================================================
// Orchestrator - Executes Deploy Plans
// =============================================================================

// healthyPollInterval is how often dependency health is re-checked while a
// dependent container waits on a service_healthy condition.
const healthyPollInterval = 2 * time.Second

// defaultHealthyWaitTimeout bounds the wait for a single service_healthy
// dependency when the caller's context carries no deadline.
const defaultHealthyWaitTimeout = 2 * time.Minute

// Orchestrator executes deploy plans against Docker. The plan is produced by
// the core planner; the orchestrator only performs I/O in plan order.
type Orchestrator struct {
	docker Client
	logger *slog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docker: docker,
		logger: logger,
	}
}

// =============================================================================
// Build Phase
// =============================================================================

// BuildImages materializes every build step of the plan. All builds complete
// before any container is created, so a build failure leaves nothing running.
func (o *Orchestrator) BuildImages(ctx context.Context, plan *coredeployment.DeployPlan) error {
	for _, step := range plan.Builds {
		o.logger.Info("building image",
			"deployment_id", plan.DeploymentID,
			"service", step.ServiceName,
			"tag", step.ImageTag,
			"target", step.Target,
		)

		spec := BuildSpec{
			Tag:        step.ImageTag,
			ContextDir: step.Context,
			Dockerfile: step.Dockerfile,
			Target:     step.Target,
			Args:       step.Args,
		}

		err := o.docker.BuildImage(ctx, spec, func(line string) {
			o.logger.Debug("build output", "service", step.ServiceName, "line", line)
		})
		if err != nil {
			return fmt.Errorf("failed to build image for service %s: %w", step.ServiceName, err)
		}

		o.logger.Info("image built", "service", step.ServiceName, "tag", step.ImageTag)
	}
	return nil
}

// PullImages ensures every pull step's image is available locally. Pull
// failures are logged and skipped; container creation will fail later if the
// image is truly absent.
func (o *Orchestrator) PullImages(ctx context.Context, plan *coredeployment.DeployPlan) {
	for _, step := range plan.Pulls {
		exists, _ := o.docker.ImageExists(step.Image)
		if exists {
			continue
		}
		o.logger.Info("pulling image", "service", step.ServiceName, "image", step.Image)
		if err := o.docker.PullImage(step.Image, PullOptions{}); err != nil {
			o.logger.Warn("failed to pull image, trying anyway", "image", step.Image, "error", err)
		}
	}
}

// =============================================================================
// Start Deployment
// =============================================================================

// StartDeployment executes a deploy plan: builds images, pulls the rest,
// creates the network and volumes, then creates and starts containers in
// dependency order. A container whose plan lists wait conditions is only
// started after each dependency reaches its condition.
// Returns the container info for all started containers.
func (o *Orchestrator) StartDeployment(ctx context.Context, deployment *domain.Deployment, plan *coredeployment.DeployPlan) ([]domain.ContainerInfo, error) {
	o.logger.Info("starting deployment",
		"deployment_id", deployment.ID,
		"project", plan.Project,
		"builds", len(plan.Builds),
		"containers", len(plan.Containers),
	)

	// 1. Resolve all images up front
	if err := o.BuildImages(ctx, plan); err != nil {
		return nil, err
	}
	o.PullImages(ctx, plan)

	return o.StartContainers(ctx, deployment, plan)
}

// StartContainers creates the network, volumes and containers of a plan whose
// images are already resolved. Use StartDeployment to do both phases at once.
func (o *Orchestrator) StartContainers(ctx context.Context, deployment *domain.Deployment, plan *coredeployment.DeployPlan) ([]domain.ContainerInfo, error) {
	// 1. Create networks for the deployment
	var networkIDs []string
	for _, n := range plan.Networks {
		networkID, err := o.createDeploymentNetwork(n)
		if err != nil {
			return nil, fmt.Errorf("failed to create network %s: %w", n.Name, err)
		}
		networkIDs = append(networkIDs, networkID)
		o.logger.Debug("created network", "network_id", networkID, "network_name", n.Name)
	}

	// 2. Create named volumes
	for _, vol := range plan.Volumes {
		if _, err := o.createDeploymentVolume(vol); err != nil {
			o.removeNetworks(networkIDs)
			return nil, fmt.Errorf("failed to create volume %s: %w", vol.Name, err)
		}
		o.logger.Debug("created volume", "volume_name", vol.Name)
	}

	// 3. Check for existing containers (restart case)
	existingContainers, _ := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", coredeployment.LabelDeployment, deployment.ID),
		},
	})

	existingByService := make(map[string]ContainerInfo)
	for _, c := range existingContainers {
		if svc, ok := c.Labels[coredeployment.LabelService]; ok {
			existingByService[svc] = c
		}
	}

	// 4. Create and start containers in plan order
	var containers []domain.ContainerInfo
	createdContainers := make(map[string]string) // serviceName -> containerID

	for _, cp := range plan.Containers {
		// Gate on dependencies before this service's process is launched
		if err := o.waitForDependencies(ctx, cp, createdContainers); err != nil {
			o.cleanupCreatedContainers(createdContainers)
			o.removeNetworks(networkIDs)
			return nil, fmt.Errorf("dependency not satisfied for service %s: %w", cp.ServiceName, err)
		}

		var containerID string
		var err error

		if existing, found := existingByService[cp.ServiceName]; found {
			containerID = existing.ID
			o.logger.Debug("using existing container", "service", cp.ServiceName, "container_id", shortID(containerID))
		} else {
			containerID, err = o.docker.CreateContainer(o.containerSpecFromPlan(cp))
			if err != nil {
				o.cleanupCreatedContainers(createdContainers)
				o.removeNetworks(networkIDs)
				return nil, fmt.Errorf("failed to create container %s: %w", cp.ServiceName, err)
			}
			o.logger.Debug("created container", "service", cp.ServiceName, "container_id", shortID(containerID))
		}

		createdContainers[cp.ServiceName] = containerID

		if err := o.docker.StartContainer(containerID); err != nil {
			// Ignore error if already running
			if !strings.Contains(err.Error(), "already started") && !strings.Contains(err.Error(), "is already running") {
				o.cleanupCreatedContainers(createdContainers)
				o.removeNetworks(networkIDs)
				return nil, fmt.Errorf("failed to start container %s: %w", cp.ServiceName, err)
			}
		}
		o.logger.Debug("started container", "service", cp.ServiceName, "container_id", shortID(containerID))

		info, err := o.docker.InspectContainer(containerID)
		if err != nil {
			o.cleanupCreatedContainers(createdContainers)
			o.removeNetworks(networkIDs)
			return nil, fmt.Errorf("failed to inspect container %s: %w", cp.ServiceName, err)
		}

		containers = append(containers, domain.ContainerInfo{
			ID:          info.ID,
			ServiceName: cp.ServiceName,
			Image:       cp.Image,
			Status:      string(info.Status),
			ExitCode:    info.ExitCode,
			Ports:       coredeployment.ConvertPorts(cp.Ports),
		})
	}

	o.logger.Info("deployment started",
		"deployment_id", deployment.ID,
		"containers", len(containers),
	)

	return containers, nil
}

// =============================================================================
// Dependency Gating
// =============================================================================

// waitForDependencies blocks until each listed dependency has reached its
// condition. Dependencies appear earlier in plan order, so their containers
// are already created and started when this is called.
func (o *Orchestrator) waitForDependencies(ctx context.Context, cp coredeployment.ContainerPlan, created map[string]string) error {
	for _, dep := range cp.WaitFor {
		depID, ok := created[dep.Service]
		if !ok {
			return fmt.Errorf("dependency %s has no container", dep.Service)
		}

		switch dep.Condition {
		case compose.ConditionStarted:
			// Already started in plan order, nothing to wait for.

		case compose.ConditionCompleted:
			o.logger.Info("waiting for dependency to complete",
				"service", cp.ServiceName,
				"dependency", dep.Service,
			)
			exitCode, err := o.docker.WaitContainer(ctx, depID)
			if err != nil {
				return fmt.Errorf("failed to wait for %s: %w", dep.Service, err)
			}
			if exitCode != 0 {
				return fmt.Errorf("service %s exited with code %d", dep.Service, exitCode)
			}
			o.logger.Debug("dependency completed", "dependency", dep.Service)

		case compose.ConditionHealthy:
			o.logger.Info("waiting for dependency to become healthy",
				"service", cp.ServiceName,
				"dependency", dep.Service,
			)
			if err := o.waitForHealthyContainer(ctx, dep.Service, depID); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown dependency condition %q on %s", dep.Condition, dep.Service)
		}
	}
	return nil
}

// waitForHealthyContainer polls a single container until it reports healthy.
func (o *Orchestrator) waitForHealthyContainer(ctx context.Context, serviceName, containerID string) error {
	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, defaultHealthyWaitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(healthyPollInterval)
	defer ticker.Stop()

	for {
		info, err := o.docker.InspectContainer(containerID)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", serviceName, err)
		}

		switch {
		case info.Health == "healthy":
			o.logger.Debug("dependency healthy", "dependency", serviceName)
			return nil
		case info.Health == "unhealthy":
			return fmt.Errorf("service %s is unhealthy", serviceName)
		case info.Health == "" && info.Status == ContainerStatusExited:
			return fmt.Errorf("service %s exited before becoming healthy", serviceName)
		case info.Health == "" && info.Status == ContainerStatusRunning:
			// No health check configured; running is the best signal available.
			return nil
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("timeout waiting for %s to become healthy", serviceName)
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Wait for Healthy
// =============================================================================

// WaitForHealthy polls all deployment containers until each is healthy (or
// running, for containers without a health check) or the timeout elapses.
func (o *Orchestrator) WaitForHealthy(ctx context.Context, deployment *domain.Deployment, timeout time.Duration) error {
	o.logger.Info("waiting for containers to be healthy",
		"deployment_id", deployment.ID,
		"timeout", timeout,
	)

	ticker := time.NewTicker(healthyPollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(timeout)

	for {
		allHealthy, err := o.checkAllContainersHealthy(deployment)
		if err != nil {
			return err
		}
		if allHealthy {
			o.logger.Info("all containers healthy", "deployment_id", deployment.ID)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for containers to become healthy")
		}
		o.logger.Debug("containers not yet healthy, waiting...", "deployment_id", deployment.ID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkAllContainersHealthy checks if all containers in deployment are healthy
func (o *Orchestrator) checkAllContainersHealthy(deployment *domain.Deployment) (bool, error) {
	for _, c := range deployment.Containers {
		info, err := o.docker.InspectContainer(c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to inspect container %s: %w", c.ServiceName, err)
		}

		// Run-to-completion services count as done once exited cleanly
		if info.Status == ContainerStatusExited {
			if info.ExitCode != 0 {
				return false, fmt.Errorf("container %s exited with code %d", c.ServiceName, info.ExitCode)
			}
			continue
		}

		if info.Health != "" {
			if info.Health == "unhealthy" {
				return false, fmt.Errorf("container %s is unhealthy", c.ServiceName)
			}
			if info.Health != "healthy" {
				return false, nil // Still waiting
			}
		} else {
			// No health check - just check if running
			if info.Status != ContainerStatusRunning {
				return false, nil
			}
		}
	}
	return true, nil
}

// =============================================================================
// Stop Deployment
// =============================================================================

// StopDeployment stops all containers for a deployment.
func (o *Orchestrator) StopDeployment(ctx context.Context, deployment *domain.Deployment) error {
	o.logger.Info("stopping deployment", "deployment_id", deployment.ID)

	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", coredeployment.LabelDeployment, deployment.ID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			o.logger.Debug("stopping container", "container_id", shortID(c.ID), "name", c.Name)
			if err := o.docker.StopContainer(c.ID, &timeout); err != nil {
				o.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
				// Continue stopping others
			}
		}
	}

	o.logger.Info("deployment stopped", "deployment_id", deployment.ID, "containers_stopped", len(containers))
	return nil
}

// =============================================================================
// Remove Deployment
// =============================================================================

// RemoveDeployment removes all resources for a deployment.
// Order: containers, then network, then volumes.
// volumeNames lists the deployment-prefixed volumes from the plan; pass nil to
// keep volumes.
func (o *Orchestrator) RemoveDeployment(ctx context.Context, deployment *domain.Deployment, volumeNames []string) error {
	o.logger.Info("removing deployment", "deployment_id", deployment.ID)

	// 1. List and remove containers
	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", coredeployment.LabelDeployment, deployment.ID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			_ = o.docker.StopContainer(c.ID, &timeout)
		}
		if err := o.docker.RemoveContainer(c.ID, RemoveOptions{Force: true, RemoveVolumes: false}); err != nil {
			o.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		} else {
			o.logger.Debug("removed container", "container_id", shortID(c.ID))
		}
	}

	// 2. Remove network
	networkName := coredeployment.NetworkName(deployment.ID)
	if err := o.docker.RemoveNetwork(networkName); err != nil {
		o.logger.Warn("failed to remove network", "network", networkName, "error", err)
	} else {
		o.logger.Debug("removed network", "network", networkName)
	}

	// 3. Remove volumes
	for _, name := range volumeNames {
		if err := o.docker.RemoveVolume(name, false); err != nil {
			o.logger.Warn("failed to remove volume", "volume", name, "error", err)
		} else {
			o.logger.Debug("removed volume", "volume", name)
		}
	}

	o.logger.Info("deployment removed", "deployment_id", deployment.ID)
	return nil
}

// =============================================================================
// Get Container Logs
// =============================================================================

// GetContainerLogs returns logs for a specific container. The engine returns
// a multiplexed stdout/stderr stream; stdcopy strips the frame headers.
func (o *Orchestrator) GetContainerLogs(ctx context.Context, containerID string, tail string) (string, error) {
	reader, err := o.docker.ContainerLogs(containerID, LogOptions{
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return buf.String(), nil
}

// =============================================================================
// Refresh Container Info
// =============================================================================

// RefreshContainerInfo refreshes the container info for a deployment.
func (o *Orchestrator) RefreshContainerInfo(ctx context.Context, deployment *domain.Deployment) ([]domain.ContainerInfo, error) {
	containers, err := o.docker.ListContainers(ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", coredeployment.LabelDeployment, deployment.ID),
		},
	})
	if err != nil {
		return nil, err
	}

	var result []domain.ContainerInfo
	for _, c := range containers {
		serviceName := ""
		if svc, ok := c.Labels[coredeployment.LabelService]; ok {
			serviceName = svc
		} else {
			// Extract from container name
			parts := strings.Split(c.Name, "_")
			if len(parts) >= 3 {
				serviceName = parts[len(parts)-1]
			}
		}

		result = append(result, domain.ContainerInfo{
			ID:          c.ID,
			ServiceName: serviceName,
			Image:       c.Image,
			Status:      string(c.Status),
			Ports:       o.convertPorts(c.Ports),
		})
	}

	return result, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// createDeploymentNetwork creates a network or returns the existing one.
func (o *Orchestrator) createDeploymentNetwork(plan coredeployment.NetworkPlan) (string, error) {
	networkID, err := o.docker.CreateNetwork(NetworkSpec{
		Name:   plan.Name,
		Driver: plan.Driver,
		Labels: plan.Labels,
	})
	if err != nil {
		// Reuse an existing network left over from a previous run
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("network already exists, reusing", "network_name", plan.Name)
			return plan.Name, nil
		}
		return "", err
	}
	return networkID, nil
}

// createDeploymentVolume creates a volume or returns the existing one.
func (o *Orchestrator) createDeploymentVolume(plan coredeployment.VolumePlan) (string, error) {
	volID, err := o.docker.CreateVolume(VolumeSpec{
		Name:   plan.Name,
		Driver: plan.Driver,
		Labels: plan.Labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("volume already exists, reusing", "volume_name", plan.Name)
			return plan.Name, nil
		}
		return "", err
	}
	return volID, nil
}

// containerSpecFromPlan maps a core container plan to a Docker spec.
func (o *Orchestrator) containerSpecFromPlan(cp coredeployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:       cp.Name,
		Image:      cp.Image,
		Command:    cp.Command,
		Entrypoint: cp.Entrypoint,
		Env:        cp.Env,
		Labels:     cp.Labels,
		Networks:   cp.Networks,
		WorkingDir: cp.WorkingDir,
		User:       cp.User,
		RestartPolicy: RestartPolicy{
			Name:              cp.RestartPolicy.Name,
			MaximumRetryCount: cp.RestartPolicy.MaximumRetryCount,
		},
		Resources: ResourceLimits{
			CPULimit:    cp.Resources.CPULimit,
			MemoryLimit: cp.Resources.MemoryLimit,
		},
	}

	for _, p := range cp.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, m := range cp.Mounts {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	if cp.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        cp.HealthCheck.Test,
			Interval:    cp.HealthCheck.Interval,
			Timeout:     cp.HealthCheck.Timeout,
			Retries:     cp.HealthCheck.Retries,
			StartPeriod: cp.HealthCheck.StartPeriod,
		}
	}

	return spec
}

// cleanupCreatedContainers stops and removes all created containers.
func (o *Orchestrator) cleanupCreatedContainers(containers map[string]string) {
	timeout := 5 * time.Second
	for name, id := range containers {
		_ = o.docker.StopContainer(id, &timeout)
		_ = o.docker.RemoveContainer(id, RemoveOptions{Force: true})
		o.logger.Debug("cleaned up container", "service", name, "container_id", shortID(id))
	}
}

// removeNetworks removes the given networks, logging failures.
func (o *Orchestrator) removeNetworks(networkIDs []string) {
	for _, id := range networkIDs {
		if err := o.docker.RemoveNetwork(id); err != nil {
			o.logger.Warn("failed to remove network", "network", id, "error", err)
		}
	}
}

// convertPorts converts Docker port bindings to domain port mappings.
func (o *Orchestrator) convertPorts(ports []PortBinding) []domain.PortMapping {
	var result []domain.PortMapping
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		result = append(result, domain.PortMapping{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      proto,
		})
	}
	return result
}

// shortID truncates a container ID for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
