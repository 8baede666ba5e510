package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "stackup_abc123", NetworkName("abc123"))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "stackup_abc123_data", VolumeName("abc123", "data"))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "stackup_abc123_app", ContainerName("abc123", "app"))
}

func TestImageName(t *testing.T) {
	assert.Equal(t, "stackup_feedmixer_install:latest", ImageName("feedmixer", "install"))
}
