package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeployment(t *testing.T) {
	d, err := NewDeployment("feedmixer", "services:\n  app:\n    image: nginx", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "feedmixer", d.Name)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, ManifestHash(d.Manifest), d.ManifestHash)
	assert.False(t, d.CreatedAt.IsZero())
}

func TestNewDeployment_EmptyName(t *testing.T) {
	_, err := NewDeployment("  ", "services: {}", nil)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestNewDeployment_EmptyManifest(t *testing.T) {
	_, err := NewDeployment("feedmixer", "", nil)
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestManifestHash_Stable(t *testing.T) {
	a := ManifestHash("services:\n  app:\n    image: nginx")
	b := ManifestHash("services:\n  app:\n    image: nginx")
	c := ManifestHash("services:\n  app:\n    image: redis")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestTransition_HappyPath(t *testing.T) {
	d, err := NewDeployment("feedmixer", "services: {}", nil)
	require.NoError(t, err)

	require.NoError(t, d.Transition(StatusBuilding))
	require.NoError(t, d.Transition(StatusStarting))
	require.NoError(t, d.Transition(StatusRunning))
	assert.NotNil(t, d.StartedAt)

	require.NoError(t, d.Transition(StatusStopping))
	require.NoError(t, d.Transition(StatusStopped))
	assert.NotNil(t, d.StoppedAt)
}

func TestTransition_Invalid(t *testing.T) {
	d, err := NewDeployment("feedmixer", "services: {}", nil)
	require.NoError(t, err)

	// pending → running skips building/starting
	err = d.Transition(StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, d.Status)
}

func TestTransition_RestartAfterStopped(t *testing.T) {
	d, err := NewDeployment("feedmixer", "services: {}", nil)
	require.NoError(t, err)

	require.NoError(t, d.Transition(StatusBuilding))
	require.NoError(t, d.Transition(StatusStarting))
	require.NoError(t, d.Transition(StatusRunning))
	require.NoError(t, d.Transition(StatusStopping))
	require.NoError(t, d.Transition(StatusStopped))

	// stopped deployments may be brought back up
	assert.True(t, CanTransition(StatusStopped, StatusBuilding))
	require.NoError(t, d.Transition(StatusBuilding))
}

func TestFail_AlwaysAllowed(t *testing.T) {
	d, err := NewDeployment("feedmixer", "services: {}", nil)
	require.NoError(t, err)

	d.Fail("install stage build failed")
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "install stage build failed", d.ErrorMessage)

	// failed deployments may be retried
	assert.True(t, CanTransition(StatusFailed, StatusBuilding))
}
