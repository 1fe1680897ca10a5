package httptransport

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	authModel "grantd/internal/auth/models"
	"grantd/internal/platform/middleware"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/httputil"
	"grantd/pkg/platform/middleware/request"
)

// maxFormBytes bounds the token request body.
const maxFormBytes = 64 << 10

const formContentType = "application/x-www-form-urlencoded"

// Redirect error codes from RFC 6749 §4.1.2.1.
const (
	redirectErrInvalidRequest = "invalid_request"
	redirectErrServerError    = "server_error"
)

//go:generate mockgen -source=handlers_auth.go -destination=mocks/auth-mocks.go -package=mocks AuthService
type AuthService interface {
	Authorize(ctx context.Context, req *authModel.AuthorizationRequest) (*authModel.AuthorizationResult, error)
	Token(ctx context.Context, req *authModel.TokenRequest) (*authModel.TokenResult, error)
}

// AuthHandler serves the OAuth endpoints. It maps domain errors to the
// wire contract and leaves every protocol decision to the service.
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// Register mounts the grant endpoints. The introspection route sits behind
// bearer authentication.
func (h *AuthHandler) Register(r chi.Router, mw RouteMiddleware) {
	r.With(use(mw.Authorize)...).Get("/authorize", h.HandleAuthorize)
	r.With(use(mw.Token)...).Post("/token", h.HandleToken)
	r.With(use(mw.Bearer)...).Get("/tokeninfo", h.HandleTokenInfo)
}

// RouteMiddleware is the per-route middleware Register applies. Nil entries
// are skipped.
type RouteMiddleware struct {
	Authorize func(http.Handler) http.Handler
	Token     func(http.Handler) http.Handler
	Bearer    func(http.Handler) http.Handler
}

func use(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}

// HandleAuthorize issues a code and redirects back to the client. Once the
// redirect target is known to be well formed, every failure, panics included,
// is reported to the client through the redirect.
func (h *AuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	redirectURI := query.Get("redirect_uri")
	if !authModel.IsValidRedirectURI(redirectURI) {
		httputil.WriteEmpty(w, http.StatusBadRequest)
		return
	}
	state := query.Get("state")

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "panic in authorize handler",
				"panic", rec,
				"request_id", request.GetRequestID(ctx),
			)
			h.redirect(w, r, redirectURI, url.Values{"error": {redirectErrServerError}}, state)
		}
	}()

	res, err := h.auth.Authorize(ctx, &authModel.AuthorizationRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURI:  redirectURI,
		State:        state,
	})
	if err != nil {
		code := authorizeErrorCode(err)
		if code == redirectErrServerError {
			h.logger.ErrorContext(ctx, "failed to authorize",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
		}
		h.redirect(w, r, redirectURI, url.Values{"error": {code}}, state)
		return
	}

	h.redirect(w, r, res.RedirectURI, url.Values{"code": {res.Code}}, res.State)
}

// HandleToken exchanges a code or refresh token. Rejections carry no body.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != formContentType {
		httputil.WriteEmpty(w, http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		httputil.WriteEmpty(w, http.StatusUnauthorized)
		return
	}

	res, err := h.auth.Token(ctx, &authModel.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		ClientID:     r.PostForm.Get("client_id"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	})
	if err != nil {
		status := tokenErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "failed to issue token",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
		}
		httputil.WriteEmpty(w, status)
		return
	}

	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleTokenInfo describes the bearer token that authenticated the request.
func (h *AuthHandler) HandleTokenInfo(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing token"))
		return
	}
	info := authModel.TokenInfo{
		Read:    claims.Read,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Unix()
	}
	httputil.NoStore(w)
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *AuthHandler) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values, state string) {
	if state != "" {
		params.Set("state", state)
	}
	location, err := buildRedirect(target, params)
	if err != nil {
		httputil.WriteEmpty(w, http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// buildRedirect appends params to target, keeping any query it already has
// (RFC 6749 §3.1.2).
func buildRedirect(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func authorizeErrorCode(err error) string {
	if isClientError(err) {
		return redirectErrInvalidRequest
	}
	return redirectErrServerError
}

// tokenErrorStatus maps exchange failures onto the empty-body statuses:
// malformed input is 401, an unknown or mismatched grant is 400.
func tokenErrorStatus(err error) int {
	switch {
	case isClientError(err):
		return http.StatusUnauthorized
	case dErrors.Is(err, dErrors.CodeNotFound), dErrors.Is(err, dErrors.CodeInvalidGrant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isClientError(err error) bool {
	return dErrors.Is(err, dErrors.CodeValidation) || dErrors.Is(err, dErrors.CodeBadRequest)
}
