// worker.go — хранилище работников: строка workers, хронология этапов и документы.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/pipeline"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
)

// WorkerRepository — интерфейс хранилища работников.
// Все чтения и изменения принимают rbac.Scope: запись вне области видимости
// неотличима от отсутствующей (ErrNotFound).
type WorkerRepository interface {
	// Create сохраняет нового работника вместе с этапами и документами
	// и добавляет его в список работников заявки (если указана).
	Create(ctx context.Context, w *model.Worker) error
	// GetByID возвращает работника по UUID в пределах области видимости.
	GetByID(ctx context.Context, scope rbac.Scope, id string) (*model.Worker, error)
	// List возвращает страницу работников и общее количество по фильтру.
	List(ctx context.Context, scope rbac.Scope, filter model.WorkerFilter) ([]*model.Worker, int, error)
	// Mutate блокирует строку работника (SELECT … FOR UPDATE), применяет fn
	// и сохраняет результат в той же транзакции. Ошибка fn откатывает транзакцию
	// и возвращается без обёртки.
	Mutate(ctx context.Context, scope rbac.Scope, id string, fn func(w *model.Worker) error) (*model.Worker, error)
	// Delete удаляет работника и убирает его из списка работников заявки.
	// Возвращает удалённую запись.
	Delete(ctx context.Context, scope rbac.Scope, id string) (*model.Worker, error)
	// CountByStatus возвращает число работников компании по статусам.
	CountByStatus(ctx context.Context, tenantID string) (map[model.WorkerStatus]int, error)
}

type workerRepo struct {
	db DBTX
	tx *TxRunner
}

// NewWorkerRepository создаёт репозиторий работников.
// Операции, изменяющие несколько таблиц, выполняются через txRunner.
func NewWorkerRepository(db DBTX, txRunner *TxRunner) WorkerRepository {
	return &workerRepo{db: db, tx: txRunner}
}

const workerColumns = `w.id::text, w.tenant_id, w.created_by, w.passport_number, w.full_name,
	w.date_of_birth, w.phone, w.email, w.address, w.country, w.employer_id,
	w.job_demand_id::text, w.sub_agent_id, w.status, w.current_stage, w.created_at, w.updated_at`

func (r *workerRepo) Create(ctx context.Context, w *model.Worker) error {
	if w.JobDemandID != nil {
		if _, err := uuid.Parse(*w.JobDemandID); err != nil {
			return ErrJobDemandNotFound
		}
	}

	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if w.JobDemandID != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE job_demands SET worker_ids = array_append(worker_ids, $1)
				WHERE id = $2 AND tenant_id = $3`,
				w.ID, *w.JobDemandID, w.TenantID,
			)
			if err != nil {
				return fmt.Errorf("ошибка привязки работника к заявке: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrJobDemandNotFound
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO workers (id, tenant_id, created_by, passport_number, full_name,
				date_of_birth, phone, email, address, country, employer_id,
				job_demand_id, sub_agent_id, status, current_stage, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			w.ID, w.TenantID, w.CreatedBy, w.PassportNumber, w.FullName,
			w.DateOfBirth, w.Phone, w.Email, w.Address, w.Country, w.EmployerID,
			w.JobDemandID, w.SubAgentID, string(w.Status), w.CurrentStage, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			if constraint, ok := uniqueViolation(err); ok {
				if constraint == constraintWorkerPassport {
					return fmt.Errorf("%w: паспорт %s уже зарегистрирован", ErrConflict, w.PassportNumber)
				}
				return fmt.Errorf("%w: работник %s", ErrConflict, w.ID)
			}
			return fmt.Errorf("ошибка создания работника: %w", err)
		}

		if err := upsertStages(ctx, tx, w.ID, w.StageTimeline); err != nil {
			return err
		}
		return insertDocuments(ctx, tx, w.ID, w.Documents)
	})
}

func (r *workerRepo) GetByID(ctx context.Context, scope rbac.Scope, id string) (*model.Worker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return getWorker(ctx, r.db, scope, id, false)
}

// getWorker загружает работника с дочерними записями.
// forUpdate блокирует строку до конца транзакции.
func getWorker(ctx context.Context, db DBTX, scope rbac.Scope, id string, forUpdate bool) (*model.Worker, error) {
	conditions, args := scopeConditions(scope, 2)
	query := fmt.Sprintf(`SELECT %s FROM workers w WHERE w.id = $1 AND %s`,
		workerColumns, strings.Join(conditions, " AND "))
	if forUpdate {
		query += " FOR UPDATE"
	}

	w, err := scanWorker(db.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения работника: %w", err)
	}

	if err := loadChildren(ctx, db, []*model.Worker{w}); err != nil {
		return nil, err
	}
	return w, nil
}

// scopeConditions переводит область видимости в условия WHERE.
// Компания проверяется всегда, автор — только если задан.
func scopeConditions(scope rbac.Scope, startArg int) ([]string, []any) {
	conditions := []string{fmt.Sprintf("w.tenant_id = $%d", startArg)}
	args := []any{scope.TenantID}
	if scope.CreatedBy != nil {
		conditions = append(conditions, fmt.Sprintf("w.created_by = $%d", startArg+1))
		args = append(args, *scope.CreatedBy)
	}
	return conditions, args
}

// buildWorkerWhere строит WHERE из области видимости и фильтров списка.
func buildWorkerWhere(scope rbac.Scope, filter model.WorkerFilter) (string, []any) {
	conditions, args := scopeConditions(scope, 1)
	argNum := len(args) + 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("w.status = $%d", argNum))
		args = append(args, string(filter.Status))
		argNum++
	}
	if filter.Stage != "" {
		conditions = append(conditions, fmt.Sprintf("w.current_stage = $%d", argNum))
		args = append(args, filter.Stage)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *workerRepo) List(ctx context.Context, scope rbac.Scope, filter model.WorkerFilter) ([]*model.Worker, int, error) {
	where, args := buildWorkerWhere(scope, filter)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM workers w "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта работников: %w", err)
	}

	argNum := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM workers w %s
		ORDER BY w.created_at DESC, w.id
		LIMIT $%d OFFSET $%d`, workerColumns, where, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка работников: %w", err)
	}
	defer rows.Close()

	var result []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования работника: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации работников: %w", err)
	}

	if err := loadChildren(ctx, r.db, result); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *workerRepo) Mutate(ctx context.Context, scope rbac.Scope, id string, fn func(w *model.Worker) error) (*model.Worker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var out *model.Worker
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		w, err := getWorker(ctx, tx, scope, id, true)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE workers SET status = $2, current_stage = $3, updated_at = $4
			WHERE id = $1`,
			w.ID, string(w.Status), w.CurrentStage, w.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("ошибка обновления работника: %w", err)
		}

		if err := upsertStages(ctx, tx, w.ID, w.StageTimeline); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM worker_documents WHERE worker_id = $1`, w.ID); err != nil {
			return fmt.Errorf("ошибка обновления документов: %w", err)
		}
		if err := insertDocuments(ctx, tx, w.ID, w.Documents); err != nil {
			return err
		}

		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) Delete(ctx context.Context, scope rbac.Scope, id string) (*model.Worker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var deleted *model.Worker
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		w, err := getWorker(ctx, tx, scope, id, true)
		if err != nil {
			return err
		}

		// Ссылка снимается по содержимому массива, а не по job_demand_id:
		// заявка могла быть переназначена вне сервиса.
		_, err = tx.Exec(ctx, `
			UPDATE job_demands SET worker_ids = array_remove(worker_ids, $1)
			WHERE $1 = ANY(worker_ids)`, w.ID)
		if err != nil {
			return fmt.Errorf("ошибка отвязки работника от заявки: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workers WHERE id = $1`, w.ID); err != nil {
			return fmt.Errorf("ошибка удаления работника: %w", err)
		}
		deleted = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *workerRepo) CountByStatus(ctx context.Context, tenantID string) (map[model.WorkerStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*) FROM workers
		WHERE tenant_id = $1
		GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта работников по статусам: %w", err)
	}
	defer rows.Close()

	counts := map[model.WorkerStatus]int{
		model.WorkerStatusPending:    0,
		model.WorkerStatusProcessing: 0,
		model.WorkerStatusDeployed:   0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статуса: %w", err)
		}
		counts[model.WorkerStatus(status)] = n
	}
	return counts, rows.Err()
}

// upsertStages записывает хронологию одним запросом через unnest.
func upsertStages(ctx context.Context, db DBTX, workerID string, timeline []model.StageEntry) error {
	ids := make([]string, len(timeline))
	statuses := make([]string, len(timeline))
	updated := make([]time.Time, len(timeline))
	notes := make([]*string, len(timeline))
	for i, s := range timeline {
		ids[i] = s.StageID
		statuses[i] = string(s.Status)
		updated[i] = s.UpdatedAt
		notes[i] = s.Note
	}

	_, err := db.Exec(ctx, `
		INSERT INTO worker_stages (worker_id, stage_id, status, updated_at, note)
		SELECT $1, u.stage_id, u.status, u.updated_at, u.note
		FROM unnest($2::text[], $3::text[], $4::timestamptz[], $5::text[])
			AS u(stage_id, status, updated_at, note)
		ON CONFLICT (worker_id, stage_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			note = EXCLUDED.note`,
		workerID, ids, statuses, updated, notes,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения этапов: %w", err)
	}
	return nil
}

// insertDocuments вставляет документы, сохраняя их порядок в поле position.
func insertDocuments(ctx context.Context, db DBTX, workerID string, docs []model.DocumentEntry) error {
	if len(docs) == 0 {
		return nil
	}

	locators := make([]string, len(docs))
	positions := make([]int32, len(docs))
	names := make([]string, len(docs))
	categories := make([]string, len(docs))
	sizes := make([]int64, len(docs))
	checksums := make([]string, len(docs))
	uploaded := make([]time.Time, len(docs))
	approvals := make([]string, len(docs))
	for i, d := range docs {
		locators[i] = d.Locator
		positions[i] = int32(i)
		names[i] = d.Name
		categories[i] = d.Category
		sizes[i] = d.Size
		checksums[i] = d.Checksum
		uploaded[i] = d.UploadedAt
		approvals[i] = string(d.Approval)
	}

	_, err := db.Exec(ctx, `
		INSERT INTO worker_documents (worker_id, locator, position, name, category, size, checksum, uploaded_at, approval)
		SELECT $1, u.locator, u.position, u.name, u.category, u.size, u.checksum, u.uploaded_at, u.approval
		FROM unnest($2::text[], $3::int[], $4::text[], $5::text[], $6::bigint[], $7::text[], $8::timestamptz[], $9::text[])
			AS u(locator, position, name, category, size, checksum, uploaded_at, approval)`,
		workerID, locators, positions, names, categories, sizes, checksums, uploaded, approvals,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintWorkerDocument {
			return fmt.Errorf("%w: документ уже прикреплён", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения документов: %w", err)
	}
	return nil
}

// loadChildren догружает этапы и документы для набора работников
// двумя запросами, независимо от размера набора.
func loadChildren(ctx context.Context, db DBTX, workers []*model.Worker) error {
	if len(workers) == 0 {
		return nil
	}

	ids := make([]string, len(workers))
	byID := make(map[string]*model.Worker, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
		byID[w.ID] = w
		w.StageTimeline = nil
		w.Documents = nil
	}

	rows, err := db.Query(ctx, `
		SELECT worker_id::text, stage_id, status, updated_at, note
		FROM worker_stages WHERE worker_id = ANY($1::uuid[])`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения этапов: %w", err)
	}
	for rows.Next() {
		var workerID, status string
		var s model.StageEntry
		if err := rows.Scan(&workerID, &s.StageID, &status, &s.UpdatedAt, &s.Note); err != nil {
			rows.Close()
			return fmt.Errorf("ошибка сканирования этапа: %w", err)
		}
		s.Status = model.StageStatus(status)
		if w, ok := byID[workerID]; ok {
			w.StageTimeline = append(w.StageTimeline, s)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка итерации этапов: %w", err)
	}

	rows, err = db.Query(ctx, `
		SELECT worker_id::text, name, category, locator, size, checksum, uploaded_at, approval
		FROM worker_documents WHERE worker_id = ANY($1::uuid[])
		ORDER BY worker_id, position`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения документов: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var workerID, approval string
		var d model.DocumentEntry
		if err := rows.Scan(&workerID, &d.Name, &d.Category, &d.Locator, &d.Size, &d.Checksum, &d.UploadedAt, &approval); err != nil {
			return fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		d.Approval = model.ApprovalStatus(approval)
		if w, ok := byID[workerID]; ok {
			w.Documents = append(w.Documents, d)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка итерации документов: %w", err)
	}

	for _, w := range workers {
		w.StageTimeline = pipeline.SortTimeline(w.StageTimeline)
	}
	return nil
}

// scanWorker сканирует строку workers (без дочерних записей).
func scanWorker(row pgx.Row) (*model.Worker, error) {
	var w model.Worker
	var status string
	err := row.Scan(
		&w.ID, &w.TenantID, &w.CreatedBy, &w.PassportNumber, &w.FullName,
		&w.DateOfBirth, &w.Phone, &w.Email, &w.Address, &w.Country, &w.EmployerID,
		&w.JobDemandID, &w.SubAgentID, &status, &w.CurrentStage, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = model.WorkerStatus(status)
	return &w, nil
}
