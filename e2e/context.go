package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "http://localhost:8080"
	defaultRoutePrefix = "/api/oauth"
)

// TestContext holds per-scenario state: the last response and the
// credentials collected along the flow.
type TestContext struct {
	BaseURL     string
	RoutePrefix string
	HTTPClient  *http.Client

	ClientID    string
	RedirectURI string
	State       string

	AuthCode     string
	AccessToken  string
	RefreshToken string

	LastResponse *http.Response
	LastBody     []byte
}

// NewTestContext targets E2E_BASE_URL (or localhost). Redirects are not
// followed so the authorize response can be inspected.
func NewTestContext() *TestContext {
	baseURL := os.Getenv("E2E_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	prefix := os.Getenv("OAUTH_ROUTE_PREFIX")
	if prefix == "" {
		prefix = defaultRoutePrefix
	}
	return &TestContext{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		RoutePrefix: prefix,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		ClientID:    "e2e-client",
		RedirectURI: "https://client.example/callback",
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	fresh := NewTestContext()
	fresh.HTTPClient = tc.HTTPClient
	*tc = *fresh
}

func (tc *TestContext) url(path string) string {
	if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/metrics") {
		return tc.BaseURL + path
	}
	return tc.BaseURL + tc.RoutePrefix + path
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	tc.LastResponse = resp
	tc.LastBody = body
	return nil
}

// GET issues a GET against a route-prefixed path.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.url(path), nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// POSTForm issues a form-encoded POST.
func (tc *TestContext) POSTForm(path string, form url.Values) error {
	return tc.POSTRaw(path, "application/x-www-form-urlencoded", form.Encode())
}

// POSTRaw issues a POST with an arbitrary content type.
func (tc *TestContext) POSTRaw(path, contentType, body string) error {
	req, err := http.NewRequest(http.MethodPost, tc.url(path), strings.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return tc.do(req)
}

func (tc *TestContext) GetStatusCode() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetHeader(name string) string {
	if tc.LastResponse == nil {
		return ""
	}
	return tc.LastResponse.Header.Get(name)
}

func (tc *TestContext) GetBody() []byte {
	return tc.LastBody
}

// GetResponseField reads a top-level field of the JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.LastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w (body: %q)", err, tc.LastBody)
	}
	value, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response", field)
	}
	return value, nil
}

// GetRedirectParams parses the query of the Location header.
func (tc *TestContext) GetRedirectParams() (url.Values, error) {
	location := tc.GetHeader("Location")
	if location == "" {
		return nil, fmt.Errorf("response has no Location header (status %d)", tc.GetStatusCode())
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}

func (tc *TestContext) GetClientID() string { return tc.ClientID }

func (tc *TestContext) GetRedirectURI() string { return tc.RedirectURI }

func (tc *TestContext) GetState() string { return tc.State }

func (tc *TestContext) SetState(state string) { tc.State = state }

func (tc *TestContext) GetAuthCode() string { return tc.AuthCode }

func (tc *TestContext) SetAuthCode(code string) { tc.AuthCode = code }

func (tc *TestContext) GetAccessToken() string { return tc.AccessToken }

func (tc *TestContext) SetAccessToken(t string) { tc.AccessToken = t }

func (tc *TestContext) GetRefreshToken() string { return tc.RefreshToken }

func (tc *TestContext) SetRefreshToken(t string) { tc.RefreshToken = t }
