package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/stackup/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Manifest     string  `db:"manifest"`
	ManifestHash string  `db:"manifest_hash"`
	Status       string  `db:"status"`
	Variables    *string `db:"variables"`
	Containers   *string `db:"containers"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	StoppedAt    *string `db:"stopped_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) GetDeploymentByName(ctx context.Context, name string) (*domain.Deployment, error) {
	return getDeploymentByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByStatus(ctx, s.db, status, opts)
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return createEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.db, deploymentID, limit)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetDeploymentByName(ctx context.Context, name string) (*domain.Deployment, error) {
	return getDeploymentByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByStatus(ctx, s.tx, status, opts)
}

func (s *txSQLiteStore) CreateEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return createEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEvents(ctx context.Context, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.tx, deploymentID, limit)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	variablesJSON, err := json.Marshal(deployment.Variables)
	if err != nil {
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(deployment.Containers)
	if err != nil {
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, "failed to serialize containers", ErrInvalidData)
	}

	var startedAt, stoppedAt *string
	if deployment.StartedAt != nil {
		s := deployment.StartedAt.Format(time.RFC3339)
		startedAt = &s
	}
	if deployment.StoppedAt != nil {
		s := deployment.StoppedAt.Format(time.RFC3339)
		stoppedAt = &s
	}

	query := `
		INSERT INTO deployments (
			id, name, manifest, manifest_hash, status, variables, containers,
			error_message, created_at, updated_at, started_at, stopped_at
		) VALUES (
			:id, :name, :manifest, :manifest_hash, :status, :variables, :containers,
			:error_message, :created_at, :updated_at, :started_at, :stopped_at
		)`

	row := map[string]any{
		"id":            deployment.ID,
		"name":          deployment.Name,
		"manifest":      deployment.Manifest,
		"manifest_hash": deployment.ManifestHash,
		"status":        string(deployment.Status),
		"variables":     string(variablesJSON),
		"containers":    string(containersJSON),
		"error_message": deployment.ErrorMessage,
		"created_at":    deployment.CreatedAt.Format(time.RFC3339),
		"updated_at":    deployment.UpdatedAt.Format(time.RFC3339),
		"started_at":    startedAt,
		"stopped_at":    stoppedAt,
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.name") {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "deployment with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.Deployment, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func getDeploymentByName(ctx context.Context, exec executor, name string) (*domain.Deployment, error) {
	query := `SELECT * FROM deployments WHERE name = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeploymentByName", "deployment", name, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeploymentByName", "deployment", name, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	variablesJSON, err := json.Marshal(deployment.Variables)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(deployment.Containers)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, "failed to serialize containers", ErrInvalidData)
	}

	var startedAt, stoppedAt *string
	if deployment.StartedAt != nil {
		s := deployment.StartedAt.Format(time.RFC3339)
		startedAt = &s
	}
	if deployment.StoppedAt != nil {
		s := deployment.StoppedAt.Format(time.RFC3339)
		stoppedAt = &s
	}

	query := `
		UPDATE deployments SET
			name = :name,
			manifest = :manifest,
			manifest_hash = :manifest_hash,
			status = :status,
			variables = :variables,
			containers = :containers,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			stopped_at = :stopped_at
		WHERE id = :id`

	row := map[string]any{
		"id":            deployment.ID,
		"name":          deployment.Name,
		"manifest":      deployment.Manifest,
		"manifest_hash": deployment.ManifestHash,
		"status":        string(deployment.Status),
		"variables":     string(variablesJSON),
		"containers":    string(containersJSON),
		"error_message": deployment.ErrorMessage,
		"updated_at":    deployment.UpdatedAt.Format(time.RFC3339),
		"started_at":    startedAt,
		"stopped_at":    stoppedAt,
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func deleteDeployment(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM deployments WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteDeployment", "deployment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteDeployment", "deployment", id, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	return rowsToDeployments(rows)
}

func listDeploymentsByStatus(ctx context.Context, exec executor, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, string(status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeploymentsByStatus", "deployment", "", err.Error(), err)
	}

	return rowsToDeployments(rows)
}

// =============================================================================
// Event Implementation Functions
// =============================================================================

// eventRow represents a deployment event row in the database.
type eventRow struct {
	ID           string `db:"id"`
	DeploymentID string `db:"deployment_id"`
	Type         string `db:"type"`
	ServiceName  string `db:"service_name"`
	Message      string `db:"message"`
	CreatedAt    string `db:"created_at"`
}

func createEvent(ctx context.Context, exec executor, event *domain.DeploymentEvent) error {
	query := `
		INSERT INTO deployment_events (
			id, deployment_id, type, service_name, message, created_at
		) VALUES (
			:id, :deployment_id, :type, :service_name, :message, :created_at
		)`

	row := map[string]any{
		"id":            event.ID,
		"deployment_id": event.DeploymentID,
		"type":          string(event.Type),
		"service_name":  event.ServiceName,
		"message":       event.Message,
		"created_at":    event.CreatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateEvent", "event", event.ID, "deployment not found", ErrForeignKey)
		}
		return NewStoreError("CreateEvent", "event", event.ID, err.Error(), err)
	}

	return nil
}

func listEvents(ctx context.Context, exec executor, deploymentID string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM deployment_events WHERE deployment_id = ? ORDER BY created_at DESC LIMIT ?`

	var rows []eventRow
	err := exec.SelectContext(ctx, &rows, query, deploymentID, limit)
	if err != nil {
		return nil, NewStoreError("ListEvents", "event", deploymentID, err.Error(), err)
	}

	events := make([]domain.DeploymentEvent, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
		if err != nil {
			return nil, NewStoreError("ListEvents", "event", row.ID, "invalid created_at timestamp", ErrInvalidData)
		}
		events = append(events, domain.DeploymentEvent{
			ID:           row.ID,
			DeploymentID: row.DeploymentID,
			Type:         domain.EventType(row.Type),
			ServiceName:  row.ServiceName,
			Message:      row.Message,
			CreatedAt:    createdAt,
		})
	}

	return events, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func rowsToDeployments(rows []deploymentRow) ([]domain.Deployment, error) {
	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployment, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}
	return deployments, nil
}

func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	deployment := &domain.Deployment{
		ID:           row.ID,
		Name:         row.Name,
		Manifest:     row.Manifest,
		ManifestHash: row.ManifestHash,
		Status:       domain.DeploymentStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
	}

	if row.Variables != nil && *row.Variables != "" && *row.Variables != "null" {
		if err := json.Unmarshal([]byte(*row.Variables), &deployment.Variables); err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to deserialize variables", ErrInvalidData)
		}
	}
	if row.Containers != nil && *row.Containers != "" && *row.Containers != "null" {
		if err := json.Unmarshal([]byte(*row.Containers), &deployment.Containers); err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to deserialize containers", ErrInvalidData)
		}
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid created_at timestamp", ErrInvalidData)
	}
	deployment.CreatedAt = createdAt

	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid updated_at timestamp", ErrInvalidData)
	}
	deployment.UpdatedAt = updatedAt

	if row.StartedAt != nil && *row.StartedAt != "" {
		t, err := time.Parse(time.RFC3339, *row.StartedAt)
		if err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid started_at timestamp", ErrInvalidData)
		}
		deployment.StartedAt = &t
	}
	if row.StoppedAt != nil && *row.StoppedAt != "" {
		t, err := time.Parse(time.RFC3339, *row.StoppedAt)
		if err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid stopped_at timestamp", ErrInvalidData)
		}
		deployment.StoppedAt = &t
	}

	return deployment, nil
}
