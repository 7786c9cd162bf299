package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifymyprovider/vmp/internal/config"
)

func TestParseTrustedProxies(t *testing.T) {
	got, err := parseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", "", "::1", "192.168.1.77/24"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("::1/128"),
		netip.MustParsePrefix("192.168.1.0/24"),
	}, got)

	_, err = parseTrustedProxies([]string{"not-an-ip"})
	assert.ErrorContains(t, err, `trusted proxy "not-an-ip"`)

	_, err = New(Deps{}, config.ServerConfig{TrustedProxies: []string{"10.0.0.0/33"}}, 24)
	assert.Error(t, err)
}

func TestRealIP(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ServerConfig{TrustedProxies: []string{"10.0.0.0/8"}})

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps its address", "203.0.113.9:4000",
			map[string]string{"X-Forwarded-For": "198.51.100.1", "X-Real-IP": "198.51.100.2"}, "203.0.113.9:4000"},
		{"trusted proxy without headers", "10.1.1.1:4000", nil, "10.1.1.1:4000"},
		{"trusted proxy forwards client", "10.1.1.1:4000",
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "198.51.100.1"},
		{"spoofed leftmost hop ignored", "10.1.1.1:4000",
			map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.1, 10.2.2.2"}, "198.51.100.1"},
		{"x-real-ip from trusted proxy", "10.1.1.1:4000",
			map[string]string{"X-Real-IP": "198.51.100.3"}, "198.51.100.3"},
		{"garbage hop keeps peer", "10.1.1.1:4000",
			map[string]string{"X-Forwarded-For": "nonsense"}, "10.1.1.1:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := srv.realIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestSubmit_SpoofedHeadersShareOneBudget(t *testing.T) {
	srv, _, ver := newTestServer(t, config.ServerConfig{VerifyPerHour: 2})
	h := srv.Handler()
	body := `{"npi":"` + testNPI + `","plan_id":"P1","acceptance_status":"ACCEPTED"}`

	for _, spoof := range []string{"198.51.100.1", "198.51.100.2"} {
		rec := do(t, h, http.MethodPost, "/api/v1/verify", body, "X-Forwarded-For", spoof, "X-Real-IP", spoof)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/verify", body, "X-Forwarded-For", "198.51.100.3")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.Len(t, ver.submitted, 2)
	assert.Equal(t, "192.0.2.1", ver.submitted[0].Submitter)
	assert.Equal(t, "192.0.2.1", ver.submitted[1].Submitter)
}

func TestSubmit_TrustedProxySplitsClients(t *testing.T) {
	srv, _, ver := newTestServer(t, config.ServerConfig{VerifyPerHour: 1, TrustedProxies: []string{"10.0.0.0/8"}})
	h := srv.Handler()
	body := `{"npi":"` + testNPI + `","plan_id":"P1","acceptance_status":"ACCEPTED"}`

	rec := doFrom(t, h, "10.0.0.5:443", http.MethodPost, "/api/v1/verify", body, "X-Forwarded-For", "198.51.100.1")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doFrom(t, h, "10.0.0.5:443", http.MethodPost, "/api/v1/verify", body, "X-Forwarded-For", "198.51.100.2")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doFrom(t, h, "10.0.0.5:443", http.MethodPost, "/api/v1/verify", body, "X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.Len(t, ver.submitted, 2)
	assert.Equal(t, "198.51.100.1", ver.submitted[0].Submitter)
	assert.Equal(t, "198.51.100.2", ver.submitted[1].Submitter)
}
