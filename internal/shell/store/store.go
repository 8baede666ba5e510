package store

import (
	"context"

	"github.com/artpar/stackup/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployments and their history.
type Store interface {
	// Deployment operations
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	GetDeploymentByName(ctx context.Context, name string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	DeleteDeployment(ctx context.Context, id string) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error)
	ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.DeploymentEvent) error
	ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
