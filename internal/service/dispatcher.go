// dispatcher.go — асинхронная внешняя рассылка уведомлений.
//
// После сохранения уведомления Dispatcher находит в каталоге пользователей
// компании, включивших категорию, и отправляет им сообщение по email и SMS.
// Очередь ограничена: при переполнении задача отбрасывается, вызывающий
// никогда не блокируется.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/notify"
)

// dispatchTimeout ограничивает обработку одного уведомления.
const dispatchTimeout = 30 * time.Second

var notifyDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lf_notify_dispatch_total",
	Help: "Внешние уведомления по каналу и результату (ok, error, dropped).",
}, []string{"channel", "result"})

// Directory — каталог пользователей с предпочтениями уведомлений.
type Directory interface {
	ListInterestedUsers(ctx context.Context, tenantID, preferenceKey string) ([]model.User, error)
}

// Dispatcher — пул воркеров внешней рассылки.
type Dispatcher struct {
	directory Directory
	notifier  notify.Notifier
	workers   int
	queue     chan model.Notification
	logger    *slog.Logger

	// drainTimeout — сколько Stop ждёт разбора очереди перед отменой отправок
	drainTimeout time.Duration

	cancel   context.CancelFunc
	stopping chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher создаёт диспетчер с очередью queueSize и workers горутинами.
func NewDispatcher(directory Directory, notifier notify.Notifier, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		directory:    directory,
		notifier:     notifier,
		workers:      workers,
		queue:        make(chan model.Notification, queueSize),
		logger:       logger.With(slog.String("component", "notify_dispatcher")),
		drainTimeout: dispatchTimeout,
	}
}

// Start запускает воркеры. Отмена ctx воркеры не останавливает:
// уведомления из запросов, завершающихся при graceful shutdown,
// должны быть отправлены. Воркеры останавливает Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.stopping = make(chan struct{})

	for range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-d.queue:
					d.dispatch(ctx, n)
				case <-d.stopping:
					d.drain(ctx)
					return
				}
			}
		}()
	}

	d.logger.Info("Диспетчер внешних уведомлений запущен",
		slog.Int("workers", d.workers),
		slog.Int("queue_size", cap(d.queue)),
	)
}

// drain рассылает то, что осталось в очереди.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.dispatch(ctx, n)
		default:
			return
		}
	}
}

// Stop разбирает оставшуюся очередь и останавливает воркеры.
// Если очередь не разобрана за drainTimeout, текущие отправки отменяются,
// а оставшиеся уведомления не отправляются.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	close(d.stopping)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		d.cancel()
		<-done
	}
	d.cancel()

	d.logger.Info("Диспетчер внешних уведомлений остановлен",
		slog.Int("dropped", len(d.queue)),
	)
}

// Enqueue ставит уведомление в очередь без ожидания.
// Возвращает false, если очередь заполнена.
func (d *Dispatcher) Enqueue(n model.Notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		notifyDispatched.WithLabelValues("any", "dropped").Inc()
		return false
	}
}

// dispatch рассылает одно уведомление заинтересованным пользователям
// одним вызовом Notifier. Инициатор события сообщение не получает.
func (d *Dispatcher) dispatch(ctx context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	users, err := d.directory.ListInterestedUsers(ctx, n.TenantID, n.Category.PreferenceKey())
	if err != nil {
		d.logger.Warn("Не удалось получить получателей уведомления",
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	text := n.Category.Label() + ": " + n.Content
	var msgs []notify.Message
	for _, u := range users {
		if u.ID == n.ActorID {
			continue
		}
		if u.Email != "" {
			msgs = append(msgs, notify.Message{Channel: notify.ChannelEmail, Recipient: u.Email, Text: text})
		}
		if u.Phone != "" {
			msgs = append(msgs, notify.Message{Channel: notify.ChannelSMS, Recipient: u.Phone, Text: text})
		}
	}
	if len(msgs) == 0 {
		return
	}

	result := "ok"
	if err := d.notifier.Notify(ctx, msgs...); err != nil {
		result = "error"
		d.logger.Warn("Ошибка внешней отправки",
			slog.String("notification_id", n.ID),
			slog.Int("messages", len(msgs)),
			slog.String("error", err.Error()),
		)
	}
	for _, m := range msgs {
		notifyDispatched.WithLabelValues(string(m.Channel), result).Inc()
	}
}
