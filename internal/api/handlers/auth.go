// auth.go — обработчик обмена кода подтверждения на identity.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/teledrive/internal/api/errors"
	"github.com/bigkaa/teledrive/internal/auth"
)

// verifyRequest — тело запроса POST /api/verify.
type verifyRequest struct {
	Code string `json:"code"`
}

// verifyResponse — ответ успешного обмена кода.
// token — сессионный JWT; telegramId и username сохранены для
// совместимости с первой версией API.
type verifyResponse struct {
	Success    bool   `json:"success"`
	TelegramID string `json:"telegramId"`
	Username   string `json:"username"`
	Token      string `json:"token"`
}

// Verify обрабатывает POST /api/verify: одноразовый обмен кода на identity.
// Неизвестный и просроченный коды оба дают 400, как в первой версии API.
func (h *APIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		apierrors.ValidationError(w, "Invalid or expired verification code")
		return
	}

	identity, displayName, err := h.codes.Exchange(req.Code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrCodeExpired):
			apierrors.ValidationError(w, "Verification code has expired")
		case errors.Is(err, auth.ErrCodeNotFound):
			apierrors.ValidationError(w, "Invalid or expired verification code")
		default:
			apierrors.InternalError(w, "Verification failed")
		}
		return
	}

	// Аккаунт получает запись в индексе сразу после привязки
	h.idx.EnsureAccount(identity)

	token, err := h.tokens.Issue(identity, displayName)
	if err != nil {
		h.logger.Error("Не удалось выпустить сессионный токен",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Verification failed")
		return
	}

	h.logger.Info("Код подтверждения обменян",
		slog.String("identity", identity),
	)

	writeJSON(w, http.StatusOK, verifyResponse{
		Success:    true,
		TelegramID: identity,
		Username:   displayName,
		Token:      token,
	})
}
