package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// JobDemandRepository — интерфейс для таблицы job_demands.
// Список работников заявки изменяет WorkerRepository в своих транзакциях.
type JobDemandRepository interface {
	// Create регистрирует заявку.
	Create(ctx context.Context, d *model.JobDemand) error
	// GetByID возвращает заявку компании по UUID.
	GetByID(ctx context.Context, tenantID, id string) (*model.JobDemand, error)
}

type jobDemandRepo struct {
	db DBTX
}

// NewJobDemandRepository создаёт репозиторий заявок.
func NewJobDemandRepository(db DBTX) JobDemandRepository {
	return &jobDemandRepo{db: db}
}

func (r *jobDemandRepo) Create(ctx context.Context, d *model.JobDemand) error {
	query := `
		INSERT INTO job_demands (id, tenant_id, employer_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, d.ID, d.TenantID, d.EmployerID, d.Title).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка %s", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *jobDemandRepo) GetByID(ctx context.Context, tenantID, id string) (*model.JobDemand, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `
		SELECT id::text, tenant_id, employer_id, title, worker_ids::text[], created_at
		FROM job_demands
		WHERE id = $1 AND tenant_id = $2`

	d := &model.JobDemand{}
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(
		&d.ID, &d.TenantID, &d.EmployerID, &d.Title, &d.WorkerIDs, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки %s: %w", id, err)
	}
	return d, nil
}
