// auth.go — извлечение identity из сессионного JWT.
//
// Заголовок Authorization: Bearer <token> необязателен: запросы первой
// версии API передают telegramId параметром, обработчики берут identity
// из контекста либо из параметра. Невалидный токен отклоняется сразу —
// частично аутентифицированных запросов не бывает.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/teledrive/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// identityKey — identity аутентифицированного пользователя в контексте запроса.
const identityKey contextKey = "identity"

// TokenParser проверяет сессионный токен и возвращает identity.
// Реализуется auth.TokenManager.
type TokenParser interface {
	Parse(token string) (identity, displayName string, err error)
}

// SessionAuth возвращает middleware, кладущий identity из Bearer-токена
// в контекст запроса. Запросы без заголовка Authorization проходят дальше
// без изменений; запросы с невалидным токеном получают 401.
func SessionAuth(tokens TokenParser, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "session_auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				apierrors.Unauthorized(w, "Invalid authorization header")
				return
			}

			identity, _, err := tokens.Parse(tokenString)
			if err != nil {
				log.Warn("Невалидный сессионный токен",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Invalid or expired session token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext возвращает identity из контекста запроса
// или пустую строку, если запрос не аутентифицирован токеном.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}
