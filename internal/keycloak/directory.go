// directory.go — каталог пользователей компании для внешних уведомлений.
package keycloak

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// Prometheus-метрики кэша каталога.
var (
	directoryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lf_directory_cache_hits_total",
		Help: "Попадания в кэш получателей уведомлений.",
	})
	directoryCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lf_directory_cache_misses_total",
		Help: "Промахи кэша получателей уведомлений.",
	})
)

// AttrPhone — атрибут пользователя с номером телефона для SMS.
const AttrPhone = "phone"

// directoryPageSize — размер страницы при обходе пользователей.
const directoryPageSize = 100

// userSearcher — поиск пользователей по атрибутам (реализуется *Client).
type userSearcher interface {
	SearchUsers(ctx context.Context, attrs map[string]string, first, max int) ([]KeycloakUser, error)
}

// Directory — каталог пользователей: принадлежность к компании
// и предпочтения уведомлений хранятся в атрибутах Keycloak.
// Результаты поиска кэшируются по паре (компания, предпочтение) на cacheTTL.
type Directory struct {
	users      userSearcher
	tenantAttr string
	pageSize   int
	cache      *expirable.LRU[string, []model.User]
}

// NewDirectory создаёт каталог. tenantAttr — имя атрибута компании
// (совпадает с claim в JWT, по умолчанию tenant_id).
// cacheSize <= 0 отключает кэш.
func NewDirectory(users userSearcher, tenantAttr string, cacheSize int, cacheTTL time.Duration) *Directory {
	d := &Directory{
		users:      users,
		tenantAttr: tenantAttr,
		pageSize:   directoryPageSize,
	}
	if cacheSize > 0 {
		d.cache = expirable.NewLRU[string, []model.User](cacheSize, nil, cacheTTL)
	}
	return d
}

// ListInterestedUsers возвращает активных пользователей компании,
// у которых атрибут preferenceKey равен "true".
// Результат поиска Keycloak перепроверяется: параметр q на старых
// версиях сравнивает значения по подстроке.
func (d *Directory) ListInterestedUsers(ctx context.Context, tenantID, preferenceKey string) ([]model.User, error) {
	key := tenantID + "\x00" + preferenceKey
	if d.cache != nil {
		if users, ok := d.cache.Get(key); ok {
			directoryCacheHits.Inc()
			return users, nil
		}
		directoryCacheMisses.Inc()
	}

	users, err := d.search(ctx, tenantID, preferenceKey)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.Add(key, users)
	}
	return users, nil
}

func (d *Directory) search(ctx context.Context, tenantID, preferenceKey string) ([]model.User, error) {
	attrs := map[string]string{
		d.tenantAttr:  tenantID,
		preferenceKey: "true",
	}

	var result []model.User
	for first := 0; ; first += d.pageSize {
		page, err := d.users.SearchUsers(ctx, attrs, first, d.pageSize)
		if err != nil {
			return nil, fmt.Errorf("поиск пользователей компании %s: %w", tenantID, err)
		}

		for i := range page {
			u := &page[i]
			if !u.Enabled || u.Attribute(d.tenantAttr) != tenantID {
				continue
			}
			if !strings.EqualFold(u.Attribute(preferenceKey), "true") {
				continue
			}
			result = append(result, u.ToUser())
		}

		if len(page) < d.pageSize {
			return result, nil
		}
	}
}
