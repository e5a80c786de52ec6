// token.go — выпуск и проверка сессионных JWT.
// После успешного обмена кода API выдаёт HS256-токен; последующие запросы
// могут передавать identity либо токеном (Authorization: Bearer), либо
// параметром telegramId, как в первой версии API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims — claims сессионного токена.
// Subject — identity (Telegram ID), Name — отображаемое имя.
type sessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager выпускает и проверяет сессионные JWT с локальным секретом.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager создаёт менеджер сессионных токенов.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue выпускает подписанный токен для identity.
func (tm *TokenManager) Issue(identity, displayName string) (string, error) {
	now := tm.now()
	claims := sessionClaims{
		Name: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			Issuer:    "teledrive",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает
// (identity, displayName).
func (tm *TokenManager) Parse(tokenString string) (identity, displayName string, err error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
			}
			return tm.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return tm.now() }),
	)
	if err != nil {
		return "", "", fmt.Errorf("ошибка проверки токена: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("токен недействителен")
	}
	return claims.Subject, claims.Name, nil
}
