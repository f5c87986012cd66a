package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/docuchat/internal/domain"
)

type stubValidator struct {
	userID string
	err    error
	token  string
}

func (s *stubValidator) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	s.token = token
	if s.err != nil {
		return "", s.err
	}
	return s.userID, nil
}

func runAuth(t *testing.T, validator AuthValidator, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var gotUserID string
	handler := APIKeyAuth(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotUserID
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	rec, _ := runAuth(t, &stubValidator{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_NotBearer(t *testing.T) {
	rec, _ := runAuth(t, &stubValidator{}, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuth_InvalidToken(t *testing.T) {
	validator := &stubValidator{err: domain.ErrInvalidAPIKey}
	rec, _ := runAuth(t, validator, "Bearer dcu_bogus")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "dcu_bogus", validator.token, "the bearer token is passed through verbatim")
}

func TestAPIKeyAuth_ValidToken(t *testing.T) {
	validator := &stubValidator{userID: "user-1"}
	rec, userID := runAuth(t, validator, "Bearer dcu_validtoken")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", userID, "user ID reaches the handler through the context")
}

func TestGetUserID_Unset(t *testing.T) {
	assert.Empty(t, GetUserID(context.Background()))
}
