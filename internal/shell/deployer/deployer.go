// Package deployer ties the core planner to the Docker orchestrator and the
// store. It drives the full deployment lifecycle: parse, plan, build, start,
// stop and remove, recording every step as a deployment event.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stackup/internal/core/compose"
	coredeployment "github.com/artpar/stackup/internal/core/deployment"
	"github.com/artpar/stackup/internal/core/domain"
	"github.com/artpar/stackup/internal/shell/docker"
	"github.com/artpar/stackup/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrAlreadyRunning = errors.New("deployment is already running")
	ErrNotRunning     = errors.New("deployment is not running")
	ErrNotFound       = errors.New("deployment not found")
)

// =============================================================================
// Deployer
// =============================================================================

// Deployer drives deployment lifecycles.
type Deployer struct {
	store        store.Store
	orchestrator *docker.Orchestrator
	logger       *slog.Logger
}

// New creates a deployer.
func New(s store.Store, client docker.Client, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:        s,
		orchestrator: docker.NewOrchestrator(client, logger),
		logger:       logger,
	}
}

// defaultWaitTimeout bounds the post-start health wait when the request does
// not set one.
const defaultWaitTimeout = 2 * time.Minute

// UpRequest carries the inputs for bringing a deployment up.
type UpRequest struct {
	Name      string
	Manifest  string // manifest YAML snapshot
	Variables map[string]string

	// Wait blocks Up until every container reports healthy (or running, for
	// containers without a health check) before the deployment goes running.
	Wait        bool
	WaitTimeout time.Duration
}

// Up brings a deployment to running: it parses and plans the manifest, builds
// all images, then creates and starts containers in dependency order. For an
// existing stopped or failed deployment the manifest snapshot is refreshed and
// the containers recreated.
func (d *Deployer) Up(ctx context.Context, req UpRequest) (*domain.Deployment, error) {
	manifest, err := compose.ParseManifest(req.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	deployment, recreate, err := d.resolveDeployment(ctx, req)
	if err != nil {
		return nil, err
	}

	// Containers left over from an earlier run of a different manifest must
	// not be reused; remove them so the new plan recreates everything.
	if recreate {
		if err := d.orchestrator.RemoveDeployment(ctx, deployment, nil); err != nil {
			d.logger.Warn("failed to remove outdated containers", "deployment_id", deployment.ID, "error", err)
		}
	}

	// Plan before touching Docker; a cycle or bad reference fails here
	plan, err := coredeployment.Plan(coredeployment.PlanParams{
		DeploymentID: deployment.ID,
		Project:      deployment.Name,
		Manifest:     manifest,
		Variables:    deployment.Variables,
	})
	if err != nil {
		d.fail(ctx, deployment, err)
		return deployment, fmt.Errorf("failed to plan deployment: %w", err)
	}

	// Build phase
	if err := deployment.Transition(domain.StatusBuilding); err != nil {
		return deployment, err
	}
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}
	if len(plan.Builds) > 0 {
		d.recordEvent(ctx, deployment.ID, domain.EventBuildStarted, "",
			fmt.Sprintf("building %d image(s)", len(plan.Builds)))
	}

	if err := d.orchestrator.BuildImages(ctx, plan); err != nil {
		d.fail(ctx, deployment, err)
		return deployment, err
	}
	if len(plan.Builds) > 0 {
		d.recordEvent(ctx, deployment.ID, domain.EventBuildFinished, "", "")
	}
	d.orchestrator.PullImages(ctx, plan)

	// Start phase
	if err := deployment.Transition(domain.StatusStarting); err != nil {
		return deployment, err
	}
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}

	containers, err := d.orchestrator.StartContainers(ctx, deployment, plan)
	if err != nil {
		d.fail(ctx, deployment, err)
		return deployment, err
	}

	deployment.Containers = containers

	if req.Wait {
		timeout := req.WaitTimeout
		if timeout <= 0 {
			timeout = defaultWaitTimeout
		}
		if err := d.orchestrator.WaitForHealthy(ctx, deployment, timeout); err != nil {
			d.fail(ctx, deployment, err)
			return deployment, err
		}
	}

	if err := deployment.Transition(domain.StatusRunning); err != nil {
		return deployment, err
	}
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}
	d.recordEvent(ctx, deployment.ID, domain.EventStarted, "",
		fmt.Sprintf("%d container(s) running", len(containers)))

	d.logger.Info("deployment up",
		"deployment_id", deployment.ID,
		"name", deployment.Name,
		"containers", len(containers),
	)

	return deployment, nil
}

// Build resolves and builds all images of a manifest without creating any
// containers or deployment records. Image tags are derived from the project
// name, so a later Up reuses what Build produced.
func (d *Deployer) Build(ctx context.Context, req UpRequest) (int, error) {
	manifest, err := compose.ParseManifest(req.Manifest)
	if err != nil {
		return 0, fmt.Errorf("failed to parse manifest: %w", err)
	}

	plan, err := coredeployment.Plan(coredeployment.PlanParams{
		DeploymentID: uuid.NewString(),
		Project:      req.Name,
		Manifest:     manifest,
		Variables:    req.Variables,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to plan deployment: %w", err)
	}

	if err := d.orchestrator.BuildImages(ctx, plan); err != nil {
		return 0, err
	}
	d.orchestrator.PullImages(ctx, plan)
	return len(plan.Builds), nil
}

// resolveDeployment finds or creates the deployment record for an Up request.
// The second return reports whether existing containers were created from a
// different manifest and must be recreated.
func (d *Deployer) resolveDeployment(ctx context.Context, req UpRequest) (*domain.Deployment, bool, error) {
	existing, err := d.store.GetDeploymentByName(ctx, req.Name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		deployment, err := domain.NewDeployment(req.Name, req.Manifest, req.Variables)
		if err != nil {
			return nil, false, err
		}
		if err := d.store.CreateDeployment(ctx, deployment); err != nil {
			return nil, false, err
		}
		d.recordEvent(ctx, deployment.ID, domain.EventCreated, "", "")
		return deployment, false, nil
	}

	switch existing.Status {
	case domain.StatusRunning:
		return nil, false, fmt.Errorf("%w: %s", ErrAlreadyRunning, req.Name)
	case domain.StatusBuilding, domain.StatusStarting, domain.StatusStopping:
		// A previous run died mid-lifecycle and left the record in flight.
		// Mark it failed so this run can take over.
		d.logger.Warn("recovering interrupted deployment",
			"deployment_id", existing.ID,
			"status", existing.Status,
		)
		existing.Fail(fmt.Sprintf("interrupted while %s", existing.Status))
	}

	recreate := existing.ManifestHash != domain.ManifestHash(req.Manifest)

	// Refresh the manifest snapshot for the new run
	existing.Manifest = req.Manifest
	existing.ManifestHash = domain.ManifestHash(req.Manifest)
	if req.Variables != nil {
		existing.Variables = req.Variables
	}
	existing.ErrorMessage = ""
	if err := d.store.UpdateDeployment(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, recreate, nil
}

// Stop stops a running deployment's containers, keeping them for a later Up.
func (d *Deployer) Stop(ctx context.Context, name string) (*domain.Deployment, error) {
	deployment, err := d.getByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if deployment.Status != domain.StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, name, deployment.Status)
	}

	if err := deployment.Transition(domain.StatusStopping); err != nil {
		return deployment, err
	}
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}

	if err := d.orchestrator.StopDeployment(ctx, deployment); err != nil {
		d.fail(ctx, deployment, err)
		return deployment, err
	}

	if err := deployment.Transition(domain.StatusStopped); err != nil {
		return deployment, err
	}
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}
	d.recordEvent(ctx, deployment.ID, domain.EventStopped, "", "")

	d.logger.Info("deployment stopped", "deployment_id", deployment.ID, "name", name)
	return deployment, nil
}

// Down stops a deployment and removes its containers, network and volumes.
// The deployment record and its event history are kept.
func (d *Deployer) Down(ctx context.Context, name string, removeVolumes bool) (*domain.Deployment, error) {
	deployment, err := d.getByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if deployment.Status == domain.StatusRunning {
		if err := deployment.Transition(domain.StatusStopping); err != nil {
			return deployment, err
		}
		if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
			return deployment, err
		}
		if err := d.orchestrator.StopDeployment(ctx, deployment); err != nil {
			d.logger.Warn("failed to stop containers, removing anyway", "error", err)
		}
		if err := deployment.Transition(domain.StatusStopped); err != nil {
			return deployment, err
		}
	}

	var volumeNames []string
	if removeVolumes {
		volumeNames = d.volumeNames(deployment)
	}

	if err := d.orchestrator.RemoveDeployment(ctx, deployment, volumeNames); err != nil {
		return deployment, err
	}

	deployment.Containers = nil
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		return deployment, err
	}
	d.recordEvent(ctx, deployment.ID, domain.EventRemoved, "", "")

	d.logger.Info("deployment down", "deployment_id", deployment.ID, "name", name)
	return deployment, nil
}

// Status returns the deployment with container state refreshed from Docker.
func (d *Deployer) Status(ctx context.Context, name string) (*domain.Deployment, error) {
	deployment, err := d.getByName(ctx, name)
	if err != nil {
		return nil, err
	}

	containers, err := d.orchestrator.RefreshContainerInfo(ctx, deployment)
	if err != nil {
		d.logger.Warn("failed to refresh container info", "error", err)
		return deployment, nil
	}
	deployment.Containers = containers
	return deployment, nil
}

// History returns the most recent events for a deployment.
func (d *Deployer) History(ctx context.Context, name string, limit int) ([]domain.DeploymentEvent, error) {
	deployment, err := d.getByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.store.ListEvents(ctx, deployment.ID, limit)
}

// List returns stored deployments.
func (d *Deployer) List(ctx context.Context, opts store.ListOptions) ([]domain.Deployment, error) {
	return d.store.ListDeployments(ctx, opts)
}

// Logs returns recent log output for one service of a deployment.
func (d *Deployer) Logs(ctx context.Context, name, serviceName, tail string) (string, error) {
	deployment, err := d.getByName(ctx, name)
	if err != nil {
		return "", err
	}

	for _, c := range deployment.Containers {
		if c.ServiceName == serviceName {
			return d.orchestrator.GetContainerLogs(ctx, c.ID, tail)
		}
	}
	return "", fmt.Errorf("service %s not found in deployment %s", serviceName, name)
}

// =============================================================================
// Helpers
// =============================================================================

func (d *Deployer) getByName(ctx context.Context, name string) (*domain.Deployment, error) {
	deployment, err := d.store.GetDeploymentByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return deployment, nil
}

// fail marks the deployment failed and records the event. Store errors during
// failure handling are logged, not returned; the original error matters more.
func (d *Deployer) fail(ctx context.Context, deployment *domain.Deployment, cause error) {
	deployment.Fail(cause.Error())
	if err := d.store.UpdateDeployment(ctx, deployment); err != nil {
		d.logger.Error("failed to persist failure", "deployment_id", deployment.ID, "error", err)
	}
	d.recordEvent(ctx, deployment.ID, domain.EventFailed, "", cause.Error())
}

func (d *Deployer) recordEvent(ctx context.Context, deploymentID string, eventType domain.EventType, serviceName, message string) {
	event := domain.NewDeploymentEvent(deploymentID, eventType, serviceName, message)
	if err := d.store.CreateEvent(ctx, event); err != nil {
		d.logger.Warn("failed to record event", "type", eventType, "error", err)
	}
}

// volumeNames re-derives the deployment's prefixed volume names from its
// manifest snapshot. Parse failures just skip volume cleanup.
func (d *Deployer) volumeNames(deployment *domain.Deployment) []string {
	manifest, err := compose.ParseManifest(deployment.Manifest)
	if err != nil {
		d.logger.Warn("failed to parse manifest for volume cleanup", "error", err)
		return nil
	}

	var names []string
	for _, vol := range manifest.Volumes {
		if vol.External {
			continue
		}
		names = append(names, coredeployment.VolumeName(deployment.ID, vol.Name))
	}
	return names
}
