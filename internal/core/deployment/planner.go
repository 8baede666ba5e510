package deployment

import (
	"time"

	"github.com/artpar/stackup/internal/core/compose"
)

// =============================================================================
// Deploy Plan Building
// =============================================================================

// PlanParams carries the inputs for planning one deployment.
type PlanParams struct {
	DeploymentID string
	Project      string
	Manifest     *compose.Manifest
	Variables    map[string]string
}

// Plan turns a parsed manifest into an executable DeployPlan.
//
// This is a pure function. The resulting plan lists image resolution steps
// (builds and pulls) and container plans in an order consistent with the
// dependency edges: a service's build step and all of its dependencies'
// entries come before its own container plan. The shell executes all image
// steps before starting any container, so a failed build aborts the
// deployment with nothing started.
func Plan(params PlanParams) (*DeployPlan, error) {
	ordered, err := TopologicalSort(params.Manifest.Services)
	if err != nil {
		return nil, err
	}

	plan := &DeployPlan{
		DeploymentID: params.DeploymentID,
		Project:      params.Project,
	}

	// One private network per deployment
	plan.Networks = append(plan.Networks, NetworkPlan{
		Name:   NetworkName(params.DeploymentID),
		Driver: "bridge",
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: params.DeploymentID,
		},
	})

	// Named volumes, prefixed with the deployment ID
	for _, vol := range params.Manifest.Volumes {
		if vol.External {
			continue
		}
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Name:   VolumeName(params.DeploymentID, vol.Name),
			Driver: vol.Driver,
			Labels: map[string]string{
				LabelManaged:    "true",
				LabelDeployment: params.DeploymentID,
			},
		})
	}

	for _, svc := range ordered {
		image := svc.Image

		if svc.Build != nil {
			image = ImageName(params.Project, svc.Name)
			plan.Builds = append(plan.Builds, BuildStep{
				ServiceName: svc.Name,
				ImageTag:    image,
				Context:     svc.Build.Context,
				Dockerfile:  svc.Build.Dockerfile,
				Target:      svc.Build.Target,
				Args:        svc.Build.Args,
			})
		} else {
			plan.Pulls = append(plan.Pulls, PullStep{
				ServiceName: svc.Name,
				Image:       image,
			})
		}

		plan.Containers = append(plan.Containers, buildContainerPlan(params, svc, image))
	}

	return plan, nil
}

// buildContainerPlan builds a ContainerPlan from one manifest service.
//
// The function:
//   - Generates the container name using ContainerName()
//   - Copies image, command, entrypoint, user and working dir
//   - Merges and substitutes environment variables
//   - Prefixes named volumes with the deployment ID
//   - Parses health check durations
//   - Maps the restart policy to Docker format
//   - Carries the dependency wait conditions for the launcher
func buildContainerPlan(params PlanParams, svc compose.Service, image string) ContainerPlan {
	plan := ContainerPlan{
		ServiceName: svc.Name,
		Name:        ContainerName(params.DeploymentID, svc.Name),
		Image:       image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		User:        svc.User,
		WorkingDir:  svc.WorkingDir,
		Env:         make(map[string]string),
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: params.DeploymentID,
			LabelProject:    params.Project,
			LabelService:    svc.Name,
		},
		Networks: []string{NetworkName(params.DeploymentID)},
		WaitFor:  svc.DependsOn,
	}

	// Merge environment: service env + deploy-time variables
	for k, v := range svc.Environment {
		plan.Env[k] = SubstituteVariables(v, params.Variables)
	}

	// Port bindings
	for _, p := range svc.Ports {
		plan.Ports = append(plan.Ports, PortPlan{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	// Volume mounts
	for _, v := range svc.Volumes {
		source := v.Source
		// Replace named volume with deployment-prefixed name
		if v.Type == compose.VolumeMountTypeVolume {
			source = VolumeName(params.DeploymentID, v.Source)
		}
		plan.Mounts = append(plan.Mounts, MountPlan{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	// Health check
	if svc.HealthCheck != nil {
		plan.HealthCheck = &HealthCheckPlan{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if svc.HealthCheck.Interval != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
				plan.HealthCheck.Interval = d
			}
		}
		if svc.HealthCheck.Timeout != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
				plan.HealthCheck.Timeout = d
			}
		}
		if svc.HealthCheck.StartPeriod != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
				plan.HealthCheck.StartPeriod = d
			}
		}
	}

	// Resource limits
	if svc.Resources.CPULimit > 0 {
		plan.Resources.CPULimit = svc.Resources.CPULimit
	}
	if svc.Resources.MemoryLimit > 0 {
		plan.Resources.MemoryLimit = svc.Resources.MemoryLimit
	}

	// Restart policy comes only from the manifest; the default is "no".
	plan.RestartPolicy = mapRestartPolicy(svc.Restart)

	// Copy service labels
	for k, v := range svc.Labels {
		plan.Labels[k] = v
	}

	return plan
}

// mapRestartPolicy maps the manifest restart policy to Docker's policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
