package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPorts_Empty(t *testing.T) {
	result := ConvertPorts(nil)
	assert.Empty(t, result)
}

func TestConvertPorts_DefaultsProtocol(t *testing.T) {
	result := ConvertPorts([]PortPlan{
		{ContainerPort: 8000, HostPort: 8000},
	})
	require.Len(t, result, 1)
	assert.Equal(t, "tcp", result[0].Protocol)
	assert.Equal(t, 8000, result[0].ContainerPort)
	assert.Equal(t, 8000, result[0].HostPort)
}

func TestConvertPorts_KeepsProtocol(t *testing.T) {
	result := ConvertPorts([]PortPlan{
		{ContainerPort: 53, HostPort: 5353, Protocol: "udp"},
	})
	require.Len(t, result, 1)
	assert.Equal(t, "udp", result[0].Protocol)
}
