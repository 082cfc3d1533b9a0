// Пакет repository — хранение работников, заявок, настроек компаний
// и ленты уведомлений в PostgreSQL. Чистый SQL через pgx.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев. Сервисный слой переводит их в свои sentinel-ошибки.
var (
	// ErrNotFound — работник не найден или не виден в области видимости.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — паспорт, документ или заявка уже существуют.
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrJobDemandNotFound — заявка, к которой прикрепляется работник, не найдена в компании.
	ErrJobDemandNotFound = errors.New("заявка работодателя не найдена")
)

// Ограничения уникальности, по которым уточняется текст конфликта.
const (
	constraintWorkerPassport = "uq_workers_passport"
	constraintWorkerDocument = "worker_documents_pkey"
)

// DBTX — общий интерфейс *pgxpool.Pool и pgx.Tx.
// Вспомогательные функции этапов и документов принимают DBTX
// и вызываются как из транзакции создания работника, так и из Mutate.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner выполняет изменения работника одной транзакцией:
// строка workers, хронология этапов, документы и список заявки.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner поверх пула.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции: ошибка fn — откат, иначе коммит.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// uniqueViolation сообщает, нарушено ли ограничение уникальности (23505),
// и возвращает имя ограничения.
func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// isUniqueViolation — нарушение любого ограничения уникальности.
func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}
