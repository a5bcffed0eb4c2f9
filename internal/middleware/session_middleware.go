package middleware

import (
	"context"
	"net/http"

	"inference_gateway/internal/auth"
	"inference_gateway/internal/models"
	"inference_gateway/internal/utils"
)

// SessionCookieName carries the session token for browser clients
const SessionCookieName = "session"

const (
	SessionClaimsKey ContextKey = "sessionClaims"
	SessionUserKey   ContextKey = "sessionUser"
)

// UserEnsurer creates the session user on first sight
type UserEnsurer interface {
	EnsureUser(ctx context.Context, id, email string, name *string) (*models.User, error)
}

// SessionMiddleware authenticates dashboard requests with a signed session
// token from the Authorization header or the session cookie.
func SessionMiddleware(secret []byte, users UserEnsurer) func(http.Handler) http.Handler {
	log := utils.NewLogger("session-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ParseBearer(r.Header.Get("Authorization"))
			if !ok {
				if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
					token, ok = c.Value, true
				}
			}
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := auth.ValidateSessionJWT(token, secret)
			if err != nil {
				log.Debug("Rejected session token", "error", err)
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			var name *string
			if claims.Name != "" {
				name = &claims.Name
			}
			user, err := users.EnsureUser(r.Context(), claims.UserID(), claims.Email, name)
			if err != nil {
				log.Error("Failed to load session user", "error", err, "user_id", claims.UserID())
				utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), SessionClaimsKey, claims)
			ctx = context.WithValue(ctx, SessionUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionClaims retrieves the verified session claims from the request context
func GetSessionClaims(ctx context.Context) (*auth.SessionClaims, bool) {
	claims, ok := ctx.Value(SessionClaimsKey).(*auth.SessionClaims)
	return claims, ok
}

// GetSessionUser retrieves the session user from the request context
func GetSessionUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(SessionUserKey).(*models.User)
	return user, ok
}
