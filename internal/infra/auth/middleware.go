package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

// Типы ключей контекста (избегаем коллизий со сторонними пакетами)
type ctxKey string

const (
	CtxUserScopes ctxKey = "user_scopes"
	CtxUserID     ctxKey = "user_id"
)

// TokenValidator — интерфейс, который должны реализовать и пайплайн, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), CtxUserScopes, claims.Scopes)
			ctx = context.WithValue(ctx, CtxUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom помогает безопасно достать ID ревьюера в хендлерах
func UserIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(CtxUserID).(string); ok {
		return id
	}
	return ""
}
