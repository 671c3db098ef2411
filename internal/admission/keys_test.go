package admission

import (
	"net/http/httptest"
	"strings"
	"testing"

	"admission/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr host",
			remoteAddr: "192.168.1.1:12345",
			want:       "ip:192.168.1.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.168.1.1",
			want:       "ip:192.168.1.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "ip:2001:db8::1",
		},
		{
			name:       "untrusted forwarded header ignored",
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "ip:10.0.0.1",
		},
		{
			name:       "trusted forwarded header first hop",
			trustProxy: true,
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"},
			want:       "ip:203.0.113.9",
		},
		{
			name:       "trusted real ip",
			trustProxy: true,
			remoteAddr: "10.0.0.1:1000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			want:       "ip:198.51.100.4",
		},
		{
			name:       "empty remote addr",
			remoteAddr: "",
			want:       "ip:unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(tt.trustProxy, nil)(req))
		})
	}
}

func TestClientKey_BearerToken(t *testing.T) {
	keyFn := ClientKey(false, func(token string) bool { return token == "secret-token" })

	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "10.0.0.1:1"
	a.Header.Set("Authorization", "Bearer secret-token")

	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "10.0.0.2:1"
	b.Header.Set("Authorization", "bearer secret-token")

	keyA := keyFn(a)
	assert.True(t, strings.HasPrefix(keyA, "token:"))
	assert.Len(t, keyA, len("token:")+16)
	assert.NotContains(t, keyA, "secret")
	assert.Equal(t, keyA, keyFn(b), "the same token maps to one client across addresses")

	c := httptest.NewRequest("GET", "/", nil)
	c.RemoteAddr = "10.0.0.1:1"
	c.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "ip:10.0.0.1", keyFn(c))

	d := httptest.NewRequest("GET", "/", nil)
	d.RemoteAddr = "10.0.0.1:1"
	d.Header.Set("Authorization", "Bearer made-up")
	assert.Equal(t, "ip:10.0.0.1", keyFn(d), "unknown tokens fall back to the address")
}

func TestClientKey_NoValidatorIgnoresTokens(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:1"
	req.Header.Set("Authorization", "Bearer anything")
	assert.Equal(t, "ip:10.0.0.7", ClientKey(false, nil)(req))
}

func TestKnownKeys(t *testing.T) {
	valid := KnownKeys([]models.APIKey{
		{Key: "adm_live", Name: "live", Enabled: true},
		{Key: "adm_off", Name: "off", Enabled: false},
	})

	assert.True(t, valid("adm_live"))
	assert.False(t, valid("adm_off"))
	assert.False(t, valid("adm_other"))
	assert.False(t, valid(""))
	assert.False(t, KnownKeys(nil)("adm_live"))
}
