package device

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const chromeLinux = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestSummarize(t *testing.T) {
	assert.Empty(t, Summarize(""))

	summary := Summarize(chromeLinux)
	assert.Contains(t, summary, "Chrome")
	assert.Contains(t, summary, "Linux")

	assert.Contains(t, Summarize("Googlebot/2.1 (+http://www.google.com/bot.html)"), "bot")
}

func TestMiddleware(t *testing.T) {
	var got string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetDevice(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", chromeLinux)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, Summarize(chromeLinux), got)
}
