package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantd/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.50 "})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted *TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "untrusted peer ignores forwarded header", headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, remote: "198.51.100.9:1234", want: "198.51.100.9"},
		{name: "untrusted peer ignores real ip header", trusted: trusted, headers: map[string]string{"X-Real-IP": "203.0.113.7"}, remote: "198.51.100.9:1234", want: "198.51.100.9"},
		{name: "trusted peer forwards client", trusted: trusted, headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, remote: "10.0.0.3:1234", want: "203.0.113.7"},
		{name: "spoofed left hop is skipped", trusted: trusted, headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.0.0.2"}, remote: "10.0.0.3:1234", want: "203.0.113.7"},
		{name: "all hops trusted uses leftmost", trusted: trusted, headers: map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.2"}, remote: "10.0.0.3:1234", want: "10.0.0.9"},
		{name: "trusted single address", trusted: trusted, headers: map[string]string{"X-Real-IP": " 198.51.100.4 "}, remote: "192.0.2.50:1234", want: "198.51.100.4"},
		{name: "trusted peer without headers", trusted: trusted, remote: "10.0.0.3:1234", want: "10.0.0.3"},
		{name: "remote addr ipv4", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote addr ipv6", remote: "[::1]:5555", want: "::1"},
		{name: "no remote addr", remote: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r, tt.trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"172.16.0.0/12", "::1", ""})
	require.NoError(t, err)
	assert.True(t, trusted.Contains("172.20.1.1"))
	assert.True(t, trusted.Contains("::1"))
	assert.False(t, trusted.Contains("172.32.0.1"))
	assert.False(t, trusted.Contains("not-an-ip"))

	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)

	var none *TrustedProxies
	assert.False(t, none.Contains("10.0.0.1"))
}

func TestClientMetadataMiddleware(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.9:80"
	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	r.Header.Set("User-Agent", "test-agent")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.9", gotIP)
	assert.Equal(t, "test-agent", gotUA)
}
