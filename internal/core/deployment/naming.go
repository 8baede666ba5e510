package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates a network name for a deployment.
// Pattern: stackup_{deploymentID}
//
// Example:
//
//	NetworkName("abc123") // returns "stackup_abc123"
func NetworkName(deploymentID string) string {
	return fmt.Sprintf("stackup_%s", deploymentID)
}

// VolumeName generates a volume name for a deployment.
// Pattern: stackup_{deploymentID}_{volumeName}
//
// Example:
//
//	VolumeName("abc123", "data") // returns "stackup_abc123_data"
func VolumeName(deploymentID, volumeName string) string {
	return fmt.Sprintf("stackup_%s_%s", deploymentID, volumeName)
}

// ContainerName generates a container name for a service in a deployment.
// Pattern: stackup_{deploymentID}_{serviceName}
//
// Example:
//
//	ContainerName("abc123", "app") // returns "stackup_abc123_app"
func ContainerName(deploymentID, serviceName string) string {
	return fmt.Sprintf("stackup_%s_%s", deploymentID, serviceName)
}

// ImageName generates the tag for an image built from a service's build
// section. The tag is project-scoped, not deployment-scoped, so repeated
// deployments of the same project reuse the build cache.
// Pattern: stackup_{project}_{serviceName}:latest
//
// Example:
//
//	ImageName("feedmixer", "install") // returns "stackup_feedmixer_install:latest"
func ImageName(project, serviceName string) string {
	return fmt.Sprintf("stackup_%s_%s:latest", project, serviceName)
}
