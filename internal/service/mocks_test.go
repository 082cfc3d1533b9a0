package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/laborflow/internal/blobstore"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/notify"
	"github.com/bigkaa/laborflow/internal/repository"
)

// --- Mock WorkerRepository ---

// memWorkerRepo — хранилище работников в памяти с проверкой области видимости.
type memWorkerRepo struct {
	mu      sync.Mutex
	workers map[string]*model.Worker
	// failErr — если задано, все операции возвращают эту ошибку
	failErr error
}

func newMemWorkerRepo() *memWorkerRepo {
	return &memWorkerRepo{workers: make(map[string]*model.Worker)}
}

func (r *memWorkerRepo) Create(_ context.Context, w *model.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for _, existing := range r.workers {
		if existing.PassportNumber == w.PassportNumber {
			return repository.ErrConflict
		}
	}
	r.workers[w.ID] = w.Clone()
	return nil
}

func (r *memWorkerRepo) GetByID(_ context.Context, scope rbac.Scope, id string) (*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	w, ok := r.workers[id]
	if !ok || !scope.Allows(w) {
		return nil, repository.ErrNotFound
	}
	return w.Clone(), nil
}

func (r *memWorkerRepo) List(_ context.Context, scope rbac.Scope, f model.WorkerFilter) ([]*model.Worker, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, 0, r.failErr
	}
	var all []*model.Worker
	for _, w := range r.workers {
		if !scope.Allows(w) {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.Stage != "" && w.CurrentStage != f.Stage {
			continue
		}
		all = append(all, w.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return all[f.Offset:end], total, nil
}

func (r *memWorkerRepo) Mutate(_ context.Context, scope rbac.Scope, id string, fn func(w *model.Worker) error) (*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	stored, ok := r.workers[id]
	if !ok || !scope.Allows(stored) {
		return nil, repository.ErrNotFound
	}
	w := stored.Clone()
	if err := fn(w); err != nil {
		return nil, err
	}
	r.workers[id] = w.Clone()
	return w, nil
}

func (r *memWorkerRepo) Delete(_ context.Context, scope rbac.Scope, id string) (*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	w, ok := r.workers[id]
	if !ok || !scope.Allows(w) {
		return nil, repository.ErrNotFound
	}
	delete(r.workers, id)
	return w, nil
}

func (r *memWorkerRepo) CountByStatus(_ context.Context, tenantID string) (map[model.WorkerStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.WorkerStatus]int)
	for _, w := range r.workers {
		if w.TenantID == tenantID {
			out[w.Status]++
		}
	}
	return out, nil
}

func (r *memWorkerRepo) stored(id string) *model.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[id].Clone()
}

func (r *memWorkerRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// --- Mock JobDemandRepository ---

type mockDemandRepo struct {
	demands map[string]*model.JobDemand
}

func (m *mockDemandRepo) Create(_ context.Context, d *model.JobDemand) error {
	if m.demands == nil {
		m.demands = make(map[string]*model.JobDemand)
	}
	m.demands[d.ID] = d
	return nil
}

func (m *mockDemandRepo) GetByID(_ context.Context, tenantID, id string) (*model.JobDemand, error) {
	d, ok := m.demands[id]
	if !ok || d.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

// --- Mock CompanySettingsRepository ---

type mockSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]model.CompanySettings
	getCalls int
	getErr   error
}

func (m *mockSettingsRepo) Get(_ context.Context, tenantID string) (model.CompanySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return model.CompanySettings{}, m.getErr
	}
	if s, ok := m.settings[tenantID]; ok {
		return s, nil
	}
	return model.CompanySettings{TenantID: tenantID}, nil
}

func (m *mockSettingsRepo) Upsert(_ context.Context, s model.CompanySettings) (model.CompanySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		m.settings = make(map[string]model.CompanySettings)
	}
	s.UpdatedAt = time.Now().UTC()
	m.settings[s.TenantID] = s
	return s, nil
}

// --- Mock NotificationRepository ---

// memNotificationRepo — лента уведомлений в памяти.
type memNotificationRepo struct {
	mu        sync.Mutex
	items     []model.Notification
	reads     map[string]map[string]bool // notification_id → user_id
	createErr error
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{reads: make(map[string]map[string]bool)}
}

func (r *memNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.items = append(r.items, *n)
	return nil
}

func (r *memNotificationRepo) ListForUser(_ context.Context, tenantID, userID string, limit int, now time.Time) ([]model.FeedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FeedItem
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		n := r.items[i]
		if n.TenantID != tenantID || !n.ExpiresAt.After(now) {
			continue
		}
		out = append(out, model.FeedItem{
			Notification: n,
			IsRead:       r.reads[n.ID][userID],
			Label:        n.Category.Label(),
		})
	}
	return out, nil
}

func (r *memNotificationRepo) MarkAllRead(_ context.Context, tenantID, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var added int64
	for _, n := range r.items {
		if n.TenantID != tenantID || !n.ExpiresAt.After(now) {
			continue
		}
		if r.reads[n.ID] == nil {
			r.reads[n.ID] = make(map[string]bool)
		}
		if !r.reads[n.ID][userID] {
			r.reads[n.ID][userID] = true
			added++
		}
	}
	return added, nil
}

func (r *memNotificationRepo) WeeklySummary(_ context.Context, tenantID string, since time.Time) ([]model.SummaryBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		day int
		cat model.NotificationCategory
	}
	counts := make(map[key]int)
	for _, n := range r.items {
		if n.TenantID != tenantID || n.CreatedAt.Before(since) {
			continue
		}
		day := int(n.CreatedAt.UTC().Weekday())
		if day == 0 {
			day = 7
		}
		counts[key{day, n.Category}]++
	}
	var out []model.SummaryBucket
	for k, c := range counts {
		out = append(out, model.SummaryBucket{ISODayOfWeek: k.day, Category: k.cat, Count: c})
	}
	return out, nil
}

func (r *memNotificationRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	var purged int64
	for _, n := range r.items {
		if n.ExpiresAt.After(now) {
			kept = append(kept, n)
			continue
		}
		delete(r.reads, n.ID)
		purged++
	}
	r.items = kept
	return purged, nil
}

func (r *memNotificationRepo) all() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.items...)
}

// --- Mock blobstore.Store ---

type mockBlobStore struct {
	mu      sync.Mutex
	stored  []string
	failFor string
}

func (m *mockBlobStore) Store(_ context.Context, r io.Reader, meta blobstore.Metadata) (blobstore.Object, error) {
	if m.failFor != "" && meta.Filename == m.failFor {
		return blobstore.Object{}, errors.New("диск заполнен")
	}
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return blobstore.Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := fmt.Sprintf("mem://%s/%d/%s", meta.TenantID, len(m.stored), meta.Filename)
	m.stored = append(m.stored, loc)
	return blobstore.Object{Locator: loc, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// --- Mock Emitter ---

type emitted struct {
	TenantID string
	ActorID  string
	Category model.NotificationCategory
	Content  string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, tenantID, actorID string, category model.NotificationCategory, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{tenantID, actorID, category, content})
}

func (e *recordingEmitter) list() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

// --- Mock Directory и Notifier ---

type mockDirectory struct {
	users []model.User
	err   error
	keys  chan string
}

func (d *mockDirectory) ListInterestedUsers(_ context.Context, _ string, preferenceKey string) ([]model.User, error) {
	if d.keys != nil {
		d.keys <- preferenceKey
	}
	return d.users, d.err
}

type sentMessage struct {
	Channel   notify.Channel
	Recipient string
	Message   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	calls int
	err   error
	// block — если задан, Notify ждёт закрытия канала
	block chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, msgs ...notify.Message) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	for _, m := range msgs {
		n.sent = append(n.sent, sentMessage{m.Channel, m.Recipient, m.Text})
	}
	return n.err
}

func (n *recordingNotifier) list() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *recordingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}
