package compose

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// ParseManifest parses compose YAML into a Manifest.
// This is a pure function - no I/O, no side effects.
// Input: raw YAML string
// Output: Manifest struct or error
func ParseManifest(yamlContent string) (*Manifest, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	manifest := &Manifest{
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		manifest.Services = append(manifest.Services, converted)
	}

	// Deterministic service order regardless of map iteration
	sort.Slice(manifest.Services, func(i, j int) bool {
		return manifest.Services[i].Name < manifest.Services[j].Name
	})

	// Referential integrity: every depends_on target must be declared
	if err := validateDependencies(manifest.Services); err != nil {
		return nil, err
	}

	// Validate no circular dependencies
	if err := detectCircularDependencies(manifest.Services); err != nil {
		return nil, err
	}

	// Validate ports
	if err := validatePorts(manifest.Services); err != nil {
		return nil, err
	}

	for name, net := range project.Networks {
		manifest.Networks = append(manifest.Networks, convertNetwork(name, net))
	}

	for name, vol := range project.Volumes {
		manifest.Volumes = append(manifest.Volumes, convertVolume(name, vol))
	}

	return manifest, nil
}

// loadProject loads a manifest using compose-go
func loadProject(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackup-temp", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures checks for features we don't support
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}

	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}

	for _, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+svc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our Service type
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		User:        svc.User,
		WorkingDir:  svc.WorkingDir,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]Dependency, 0),
	}

	// Build config
	if svc.Build != nil {
		if svc.Build.Context == "" {
			return Service{}, NewParseError("services."+svc.Name+".build", "build section must declare a context", ErrBuildNoContext)
		}
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
			Target:     svc.Build.Target,
		}
		if len(svc.Build.Args) > 0 {
			service.Build.Args = make(map[string]string, len(svc.Build.Args))
			for k, v := range svc.Build.Args {
				if v != nil {
					service.Build.Args[k] = *v
				}
			}
		}
	}

	// Validate image or build
	if service.Image == "" && service.Build == nil {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	// Ports
	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	// Environment
	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	// Volumes
	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	// Networks
	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	// DependsOn with conditions
	for dep, cfg := range svc.DependsOn {
		condition := DependencyCondition(cfg.Condition)
		switch condition {
		case ConditionStarted, ConditionHealthy, ConditionCompleted:
		default:
			condition = ConditionStarted
		}
		service.DependsOn = append(service.DependsOn, Dependency{
			Service:   dep,
			Condition: condition,
		})
	}
	sort.Slice(service.DependsOn, func(i, j int) bool {
		return service.DependsOn[i].Service < service.DependsOn[j].Service
	})

	// Restart policy
	service.Restart = RestartPolicy(svc.Restart)

	// Labels
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	// HealthCheck
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	// Resources
	// Note: compose-go's NanoCPUs is misnamed - it's actually the CPU count as float32
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		limits := svc.Deploy.Resources.Limits
		service.Resources.CPULimit = float64(limits.NanoCPUs)
		service.Resources.MemoryLimit = int64(limits.MemoryBytes)
	}
	if svc.Deploy != nil && svc.Deploy.Resources.Reservations != nil {
		reservations := svc.Deploy.Resources.Reservations
		service.Resources.CPUReservation = float64(reservations.NanoCPUs)
		service.Resources.MemoryReservation = int64(reservations.MemoryBytes)
	}

	return service, nil
}

// convertNetwork converts a compose-go network to our Network type
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:       name,
		Driver:     net.Driver,
		External:   bool(net.External),
		Internal:   net.Internal,
		Attachable: net.Attachable,
		Labels:     net.Labels,
	}
}

// convertVolume converts a compose-go volume to our Volume type
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// validateDependencies checks that every depends_on target is a declared service.
func validateDependencies(services []Service) error {
	declared := make(map[string]bool, len(services))
	for _, svc := range services {
		declared[svc.Name] = true
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !declared[dep.Service] {
				return NewParseError(
					"services."+svc.Name+".depends_on",
					fmt.Sprintf("service %q is not declared", dep.Service),
					ErrUnknownDependency,
				)
			}
		}
	}
	return nil
}

// detectCircularDependencies detects circular dependencies in service dependencies
func detectCircularDependencies(services []Service) error {
	// Build adjacency list
	deps := make(map[string][]string)
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			deps[svc.Name] = append(deps[svc.Name], dep.Service)
		}
	}

	// Track visited and recursion stack for DFS
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			// Self-reference
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// validatePorts validates all port configurations
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			if port.Target == 0 {
				return NewParseError(
					fmt.Sprintf("services.%s.ports[%d]", svc.Name, i),
					"target port cannot be 0",
					ErrServiceInvalidPort,
				)
			}
			if port.Target > 65535 {
				return NewParseError(
					fmt.Sprintf("services.%s.ports[%d]", svc.Name, i),
					"target port must be <= 65535",
					ErrServiceInvalidPort,
				)
			}
			if port.Published > 65535 {
				return NewParseError(
					fmt.Sprintf("services.%s.ports[%d]", svc.Name, i),
					"published port must be <= 65535",
					ErrServiceInvalidPort,
				)
			}
		}
	}
	return nil
}

// =============================================================================
// Variable Extraction
// =============================================================================

// variablePlaceholderRegex matches ${VAR_NAME} or ${VAR_NAME:-default}
var variablePlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-[^}]*)?\}`)

// ExtractVariables extracts environment variable placeholders (${VAR_NAME}) from a manifest.
// Returns unique variable names without the ${} wrapper.
// Note: This works on the resolved environment values in Manifest.
func ExtractVariables(manifest *Manifest) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, svc := range manifest.Services {
		for _, val := range svc.Environment {
			matches := variablePlaceholderRegex.FindAllStringSubmatch(val, -1)
			for _, match := range matches {
				if len(match) >= 2 {
					varName := match[1]
					if !seen[varName] {
						seen[varName] = true
						vars = append(vars, varName)
					}
				}
			}
		}
	}

	return vars
}

// ExtractVariablesFromYAML extracts environment variable placeholders from raw YAML content.
// This extracts variable names before compose-go interpolates them.
// Returns unique variable names without the ${} wrapper.
func ExtractVariablesFromYAML(yamlContent string) []string {
	seen := make(map[string]bool)
	var vars []string

	matches := variablePlaceholderRegex.FindAllStringSubmatch(yamlContent, -1)
	for _, match := range matches {
		if len(match) >= 2 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	return vars
}

// =============================================================================
// Validation
// =============================================================================

// ValidateManifest performs semantic validation on a parsed manifest.
// Returns all validation errors found.
func ValidateManifest(manifest *Manifest) []error {
	var errs []error

	for _, svc := range manifest.Services {
		if svc.Resources.CPULimit < 0 {
			errs = append(errs, NewParseError(
				"services."+svc.Name+".resources.cpu_limit",
				"CPU limit cannot be negative",
				ErrInvalidCPU,
			))
		}
		if svc.Resources.CPUReservation < 0 {
			errs = append(errs, NewParseError(
				"services."+svc.Name+".resources.cpu_reservation",
				"CPU reservation cannot be negative",
				ErrInvalidCPU,
			))
		}

		if svc.Resources.MemoryLimit < 0 {
			errs = append(errs, NewParseError(
				"services."+svc.Name+".resources.memory_limit",
				"Memory limit cannot be negative",
				ErrInvalidMemory,
			))
		}
		if svc.Resources.MemoryReservation < 0 {
			errs = append(errs, NewParseError(
				"services."+svc.Name+".resources.memory_reservation",
				"Memory reservation cannot be negative",
				ErrInvalidMemory,
			))
		}
	}

	return errs
}
