package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-signing-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authProbe(t *testing.T, authHeader string) (int, int64, bool) {
	t.Helper()
	var gotID int64
	var gotOK bool
	handler := NewAuthMiddleware(testSecret).RequireAuth(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID, gotOK = AccountFromContext(r.Context())
		}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec.Code, gotID, gotOK
}

func TestValidToken(t *testing.T) {
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	code, id, ok := authProbe(t, "Bearer "+token)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !ok || id != 42 {
		t.Errorf("expected account 42 in context, got %d (ok=%v)", id, ok)
	}
}

func TestMissingHeader(t *testing.T) {
	code, _, ok := authProbe(t, "")
	if code != http.StatusUnauthorized || ok {
		t.Errorf("expected 401 without context, got %d (ok=%v)", code, ok)
	}
}

func TestWrongSecret(t *testing.T) {
	token := mintToken(t, "other-secret", jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	code, _, _ := authProbe(t, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong secret, got %d", code)
	}
}

func TestExpiredToken(t *testing.T) {
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	code, _, _ := authProbe(t, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", code)
	}
}

func TestNonNumericSubject(t *testing.T) {
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	code, _, _ := authProbe(t, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for non-numeric subject, got %d", code)
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	code, _, _ := authProbe(t, "Bearer "+signed)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for alg=none token, got %d", code)
	}
}
