// retention.go — фоновая очистка истёкших уведомлений.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/laborflow/internal/repository"
)

var retentionPurged = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lf_retention_purged_total",
	Help: "Удалённые по сроку хранения уведомления.",
})

// RetentionService периодически удаляет уведомления с истёкшим expires_at.
// Чтения фильтруют истёкшие записи сами, очистка только освобождает место.
type RetentionService struct {
	repo     repository.NotificationRepository
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService создаёт сервис очистки.
func NewRetentionService(repo repository.NotificationRepository, interval time.Duration, logger *slog.Logger) *RetentionService {
	return &RetentionService{
		repo:     repo,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "retention")),
	}
}

// Start запускает фоновую горутину с ticker.
func (s *RetentionService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Очистка уведомлений запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Очистка уведомлений остановлена")
				return
			case <-ticker.C:
				if _, err := s.PurgeNow(ctx); err != nil {
					s.logger.Error("Ошибка очистки уведомлений",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *RetentionService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// PurgeNow удаляет истёкшие уведомления и возвращает их число.
func (s *RetentionService) PurgeNow(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, mapRepoError("очистка уведомлений", err)
	}
	retentionPurged.Add(float64(n))
	if n > 0 {
		s.logger.Info("Истёкшие уведомления удалены", slog.Int64("count", n))
	}
	return n, nil
}
