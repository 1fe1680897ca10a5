package models

import (
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"

	dErrors "grantd/pkg/domain-errors"
)

// GrantType enumerates the grant types accepted by the token endpoint.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ResponseTypeCode is the only response type the authorization endpoint issues.
const ResponseTypeCode = "code"

// TokenTypeBearer is echoed in every token response.
const TokenTypeBearer = "bearer"

// IsValidRedirectURI reports whether raw is a well-formed absolute URL. No scheme
// allowlist is applied. A scheme with nothing after it ("http://") is rejected.
func IsValidRedirectURI(raw string) bool {
	if raw == "" || !govalidator.IsRequestURL(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}

// AuthorizationRequest is the query of GET /authorize after transport parsing.
type AuthorizationRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	State        string
}

// Validate checks everything except the redirect URI, which the transport
// validates before a redirect target can be trusted.
func (r *AuthorizationRequest) Validate() error {
	if r.ResponseType != ResponseTypeCode {
		return dErrors.New(dErrors.CodeValidation, "response_type must be code")
	}
	if r.ClientID == "" {
		return dErrors.New(dErrors.CodeValidation, "client_id is required")
	}
	return nil
}

// AuthorizationResult carries what the transport needs to build the success redirect.
type AuthorizationResult struct {
	Code        string
	State       string
	RedirectURI string
}

// TokenRequest is the form body of POST /token.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	RedirectURI  string
	RefreshToken string
}

// Normalize trims the grant type; credential values are compared verbatim.
func (r *TokenRequest) Normalize() {
	r.GrantType = strings.TrimSpace(r.GrantType)
}

// Validate rejects requests whose shape is wrong for their grant type.
func (r *TokenRequest) Validate() error {
	switch GrantType(r.GrantType) {
	case GrantAuthorizationCode:
		if r.Code == "" {
			return dErrors.New(dErrors.CodeValidation, "code is required")
		}
		if r.ClientID == "" {
			return dErrors.New(dErrors.CodeValidation, "client_id is required")
		}
		if !IsValidRedirectURI(r.RedirectURI) {
			return dErrors.New(dErrors.CodeValidation, "redirect_uri must be an absolute URL")
		}
	case GrantRefreshToken:
		if r.RefreshToken == "" {
			return dErrors.New(dErrors.CodeValidation, "refresh_token is required")
		}
	case "":
		return dErrors.New(dErrors.CodeValidation, "grant_type is required")
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported grant_type")
	}
	return nil
}

// TokenResult is the JSON body of a successful token response.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// TokenInfo describes a decoded bearer token for resource servers.
type TokenInfo struct {
	Read      bool   `json:"read"`
	TokenID   string `json:"token_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}
