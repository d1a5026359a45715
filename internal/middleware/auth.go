// Package middleware содержит HTTP middleware сервиса экономики.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/validation"
)

type contextKey string

const playerIDKey contextKey = "playerID"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет подписанный токен игрока из заголовка Authorization или cookie.
// Токен имеет вид "<playerId>.<hex(hmac-sha256(playerId))>".
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным: такие токены живут до перезапуска процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен и добавляет идентификатор игрока в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}

		playerID, ok := a.parseToken(token)
		if !ok {
			writeUnauthenticated(w)
			return
		}

		ctx := context.WithValue(r.Context(), playerIDKey, playerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(apperr.ToJSON(apperr.Unauthenticated))
}

// SetAuthCookie устанавливает cookie авторизации для указанного игрока.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, playerID string) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.Token(playerID),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// Token подписывает идентификатор игрока.
func (a *AuthMiddleware) Token(playerID string) string {
	return playerID + "." + a.sign(playerID)
}

func (a *AuthMiddleware) sign(playerID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(playerID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 {
		return "", false
	}

	playerID, signature := token[:idx], token[idx+1:]
	if !validation.IsValidID(playerID) {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(a.sign(playerID))) {
		return "", false
	}

	return playerID, true
}

// GetPlayerIDFromContext извлекает идентификатор игрока из контекста запроса.
func GetPlayerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(playerIDKey).(string)
	return id, ok && id != ""
}
