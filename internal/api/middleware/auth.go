package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const accountIDKey contextKey = "accountID"

// AuthMiddleware is the identity-boundary adapter: session issuance, OAuth,
// and CSRF live elsewhere; this service only verifies the bearer token those
// systems minted and extracts the account id from its subject claim.
type AuthMiddleware struct {
	jwtSecret []byte
}

// NewAuthMiddleware creates the middleware with the shared signing secret.
func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: []byte(jwtSecret)}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// account id in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			unauthorized(w, "authorization required")
			return
		}
		if len(tokenString) > 7 && strings.EqualFold(tokenString[:7], "bearer ") {
			tokenString = tokenString[7:]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return m.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			unauthorized(w, "invalid token")
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			unauthorized(w, "invalid token claims")
			return
		}
		accountID, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			unauthorized(w, "invalid account id in token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), accountID)))
	})
}

// WithAccount returns a context carrying an authenticated account id, as
// RequireAuth would have set it.
func WithAccount(ctx context.Context, accountID int64) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountFromContext returns the authenticated account id, or false when the
// request did not pass RequireAuth.
func AccountFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
