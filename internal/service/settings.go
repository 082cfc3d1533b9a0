// settings.go — настройки компании.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/repository"
)

// SettingsService — чтение и изменение настроек компании.
// Настройки не кэшируются между запросами: операция работника читает их
// один раз и применяет ко всему ответу.
type SettingsService struct {
	repo   repository.CompanySettingsRepository
	events Emitter
	logger *slog.Logger
}

// NewSettingsService создаёт сервис настроек.
// events может быть nil — тогда изменения не попадают в ленту.
func NewSettingsService(
	repo repository.CompanySettingsRepository,
	events Emitter,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		repo:   repo,
		events: events,
		logger: logger.With(slog.String("service", "settings")),
	}
}

// Get возвращает текущие настройки компании.
func (s *SettingsService) Get(ctx context.Context, tenantID string) (model.CompanySettings, error) {
	v, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return model.CompanySettings{}, mapRepoError("получение настроек компании", err)
	}
	return v, nil
}

// Update меняет приватность паспортов. Доступно admin и super_admin.
func (s *SettingsService) Update(ctx context.Context, caller rbac.Caller, isPassportPrivate bool) (model.CompanySettings, error) {
	if !rbac.CanManageSettings(caller.Role) {
		return model.CompanySettings{}, fmt.Errorf("%w: изменять настройки может только администратор", ErrForbidden)
	}

	saved, err := s.repo.Upsert(ctx, model.CompanySettings{
		TenantID:          caller.TenantID,
		IsPassportPrivate: isPassportPrivate,
		UpdatedBy:         caller.UserID,
	})
	if err != nil {
		return model.CompanySettings{}, mapRepoError("сохранение настроек компании", err)
	}

	s.logger.Info("Настройки компании обновлены",
		slog.String("tenant_id", caller.TenantID),
		slog.Bool("is_passport_private", isPassportPrivate),
		slog.String("updated_by", caller.UserID),
	)

	if s.events != nil {
		state := "disabled"
		if isPassportPrivate {
			state = "enabled"
		}
		s.events.Emit(ctx, caller.TenantID, caller.UserID, model.CategorySystem,
			fmt.Sprintf("%s %s passport privacy", actorName(caller), state))
	}
	return saved, nil
}
