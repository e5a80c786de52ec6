// Пакет auth — привязка аккаунтов через одноразовые коды подтверждения
// и сессионные JWT.
//
// codes.go — реестр 6-значных кодов. Код выдаётся по событию /start от бота,
// действует 10 минут и обменивается на identity ровно один раз.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки обмена кода.
var (
	// ErrCodeNotFound — код не существует или уже использован.
	ErrCodeNotFound = errors.New("код подтверждения не найден")
	// ErrCodeExpired — срок действия кода истёк.
	ErrCodeExpired = errors.New("срок действия кода подтверждения истёк")
)

// Prometheus-метрики реестра кодов.
var (
	codesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "td_auth_codes_issued_total",
		Help: "Общее количество выданных кодов подтверждения",
	})
	codesExchangedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "td_auth_codes_exchanged_total",
		Help: "Общее количество попыток обмена кода (по результату)",
	}, []string{"result"})
)

// binding — привязка кода к identity на время жизни кода.
type binding struct {
	identity    string
	displayName string
	issuedAt    time.Time
}

// Registry — потокобезопасный реестр одноразовых кодов подтверждения.
// Обмен атомарен относительно удаления: из двух одновременных обменов
// одного кода успешен только первый, второй получает ErrCodeNotFound.
type Registry struct {
	mu     sync.Mutex
	codes  map[string]binding
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry создаёт реестр кодов с указанным временем жизни.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		codes:  make(map[string]binding),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "auth_codes")),
	}
}

// Issue генерирует 6-значный код и записывает привязку к identity.
// Коллизия кода перезаписывает старую привязку: при пространстве в 900000
// значений и коротком времени жизни это допустимо.
func (r *Registry) Issue(identity, displayName string) string {
	code := fmt.Sprintf("%06d", 100000+rand.IntN(900000))

	r.mu.Lock()
	r.codes[code] = binding{
		identity:    identity,
		displayName: displayName,
		issuedAt:    r.now(),
	}
	r.mu.Unlock()

	codesIssuedTotal.Inc()
	r.logger.Info("Код подтверждения выдан",
		slog.String("identity", identity),
	)
	return code
}

// Exchange обменивает код на (identity, displayName). Одноразовость
// обеспечивается удалением привязки при успехе. Просроченная привязка
// удаляется как побочный эффект и возвращает ErrCodeExpired.
func (r *Registry) Exchange(code string) (identity, displayName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.codes[code]
	if !ok {
		codesExchangedTotal.WithLabelValues("not_found").Inc()
		return "", "", ErrCodeNotFound
	}

	if r.now().Sub(b.issuedAt) > r.ttl {
		delete(r.codes, code)
		codesExchangedTotal.WithLabelValues("expired").Inc()
		return "", "", ErrCodeExpired
	}

	delete(r.codes, code)
	codesExchangedTotal.WithLabelValues("success").Inc()
	return b.identity, b.displayName, nil
}

// RemoveExpired удаляет все привязки с истёкшим сроком действия.
// Возвращает количество удалённых.
func (r *Registry) RemoveExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for code, b := range r.codes {
		if now.Sub(b.issuedAt) > r.ttl {
			delete(r.codes, code)
			removed++
		}
	}
	return removed
}

// Outstanding возвращает количество действующих привязок.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// StartJanitor запускает фоновую горутину периодической очистки
// просроченных привязок. Интервал — половина времени жизни кода.
func (r *Registry) StartJanitor(ctx context.Context) {
	interval := r.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.RemoveExpired(); removed > 0 {
					r.logger.Debug("Просроченные коды удалены",
						slog.Int("removed", removed),
					)
				}
			}
		}
	}()

	r.logger.Info("Очистка просроченных кодов запущена",
		slog.String("interval", interval.String()),
	)
}
