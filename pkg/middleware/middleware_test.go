package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSessions struct {
	sessions map[string]*entity.Session
}

func (f *fakeSessions) FindValidSession(ctx context.Context, token string) (*entity.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return s, nil
}

func okHandler(t *testing.T, wantRole string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := utils.GetUserIDFromContext(r.Context())
		assert.True(t, ok)
		role, _ := utils.GetRoleFromContext(r.Context())
		assert.Equal(t, wantRole, role)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*entity.Session{
		"good-token": {UserID: uuid.New(), Role: entity.RoleStudent, ExpiresAt: time.Now().Add(time.Hour)},
	}}
	h := AuthSession(sessions, zap.NewNop())(okHandler(t, "student"))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good-token", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bookings/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAdmin(t *testing.T) {
	h := Admin(zap.NewNop())(okHandler(t, "admin"))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/bookings/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = req.WithContext(utils.SetUserContext(req.Context(), uuid.New(), "student"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(utils.SetUserContext(req.Context(), uuid.New(), "admin"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(6, zap.NewNop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/settlement/success", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000"))
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestCORS(t *testing.T) {
	h := CORS("https://app.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/bookings", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
