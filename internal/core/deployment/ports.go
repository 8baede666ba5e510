package deployment

import (
	"github.com/artpar/stackup/internal/core/domain"
)

// =============================================================================
// Port Conversion Functions
// =============================================================================

// ConvertPorts converts port plans to domain port mappings.
// Default protocol is "tcp" if empty.
//
// Example:
//
//	ports := []PortPlan{{ContainerPort: 8000, HostPort: 8000, Protocol: ""}}
//	mappings := ConvertPorts(ports)
//	// Result: []domain.PortMapping{{ContainerPort: 8000, HostPort: 8000, Protocol: "tcp"}}
func ConvertPorts(ports []PortPlan) []domain.PortMapping {
	if len(ports) == 0 {
		return []domain.PortMapping{}
	}

	result := make([]domain.PortMapping, 0, len(ports))
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
