package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// CompanySettingsRepository — интерфейс для таблицы company_settings.
type CompanySettingsRepository interface {
	// Get возвращает настройки компании.
	// Если строки нет — значения по умолчанию (приватность выключена).
	Get(ctx context.Context, tenantID string) (model.CompanySettings, error)
	// Upsert создаёт или обновляет настройки компании.
	Upsert(ctx context.Context, s model.CompanySettings) (model.CompanySettings, error)
}

// companySettingsRepo — реализация CompanySettingsRepository.
type companySettingsRepo struct {
	db DBTX
}

// NewCompanySettingsRepository создаёт репозиторий настроек компаний.
func NewCompanySettingsRepository(db DBTX) CompanySettingsRepository {
	return &companySettingsRepo{db: db}
}

// Get возвращает настройки компании по tenant_id.
func (r *companySettingsRepo) Get(ctx context.Context, tenantID string) (model.CompanySettings, error) {
	query := `
		SELECT tenant_id, is_passport_private, updated_by, updated_at
		FROM company_settings
		WHERE tenant_id = $1`

	var s model.CompanySettings
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&s.TenantID, &s.IsPassportPrivate, &s.UpdatedBy, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CompanySettings{TenantID: tenantID}, nil
		}
		return model.CompanySettings{}, fmt.Errorf("ошибка получения настроек компании %s: %w", tenantID, err)
	}
	return s, nil
}

// Upsert сохраняет настройки (INSERT ... ON CONFLICT DO UPDATE).
func (r *companySettingsRepo) Upsert(ctx context.Context, s model.CompanySettings) (model.CompanySettings, error) {
	query := `
		INSERT INTO company_settings (tenant_id, is_passport_private, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET is_passport_private = EXCLUDED.is_passport_private,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING tenant_id, is_passport_private, updated_by, updated_at`

	var out model.CompanySettings
	err := r.db.QueryRow(ctx, query, s.TenantID, s.IsPassportPrivate, s.UpdatedBy).Scan(
		&out.TenantID, &out.IsPassportPrivate, &out.UpdatedBy, &out.UpdatedAt,
	)
	if err != nil {
		return model.CompanySettings{}, fmt.Errorf("ошибка сохранения настроек компании %s: %w", s.TenantID, err)
	}
	return out, nil
}
