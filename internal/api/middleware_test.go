package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admission/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAPIKeys() []models.APIKey {
	return []models.APIKey{
		{Key: "adm_admin", Name: "ops", Permissions: []string{models.PermissionAdmin}, Enabled: true},
		{Key: "adm_read", Name: "dashboards", Permissions: []string{models.PermissionRead}, Enabled: true},
		{Key: "adm_disabled", Name: "retired", Permissions: []string{models.PermissionAdmin}, Enabled: false},
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = actorName(r)
		w.WriteHeader(http.StatusOK)
	})
	mw := authMiddleware(testAPIKeys())

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedActor  string
	}{
		{"admin key", "Bearer adm_admin", http.StatusOK, "ops"},
		{"read key", "Bearer adm_read", http.StatusOK, "dashboards"},
		{"lowercase scheme", "bearer adm_admin", http.StatusOK, "ops"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"unknown key", "Bearer nope", http.StatusUnauthorized, ""},
		{"disabled key", "Bearer adm_disabled", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic YWRtaW46YWRtaW4=", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			mw(handler).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedActor, seen)
			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Contains(t, rr.Body.String(), models.ErrorCodeUnauthorized)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	keys := testAPIKeys()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		key            *models.APIKey
		required       Permission
		expectedStatus int
	}{
		{"admin satisfies admin", &keys[0], PermissionAdmin, http.StatusOK},
		{"admin satisfies read", &keys[0], PermissionRead, http.StatusOK},
		{"read satisfies read", &keys[1], PermissionRead, http.StatusOK},
		{"read denied admin", &keys[1], PermissionAdmin, http.StatusForbidden},
		{"no security context", nil, PermissionRead, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Wrap with auth so the security context is populated the same way as in production.
			var h http.Handler = RequirePermission(tt.required)(ok)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
			if tt.key != nil {
				h = authMiddleware(keys)(h)
				req.Header.Set("Authorization", "Bearer "+tt.key.Key)
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestFindAPIKey(t *testing.T) {
	keys := testAPIKeys()

	found := findAPIKey(keys, "adm_read")
	require.NotNil(t, found)
	assert.Equal(t, "dashboards", found.Name)

	assert.Nil(t, findAPIKey(keys, "adm_disabled"))
	assert.Nil(t, findAPIKey(keys, ""))
	assert.Nil(t, findAPIKey(nil, "adm_admin"))
}

func TestActorName_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, anonymousActor, actorName(req))
	assert.Nil(t, GetSecurityContext(req))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	recoveryMiddleware(panicking).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), models.ErrorCodeInternalError)
}

func TestRecoveryMiddleware_RepanicsAbort(t *testing.T) {
	aborting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		recoveryMiddleware(aborting).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr}

	_, err := rec.Write([]byte("hello"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rec.status, "first write fixes the status")
	assert.Same(t, rr, rec.Unwrap())
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/anything", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
}
