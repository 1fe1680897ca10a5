package models

import "time"

// Lifetimes fixed by the grant flow.
const (
	// PendingGrantTTL bounds how long an issued authorization code stays redeemable
	// (RFC 6749 §4.1.2 recommends at most 10 minutes).
	PendingGrantTTL = 10 * time.Minute
	// AccessTokenTTL is the lifetime embedded in every encrypted access token.
	AccessTokenTTL = time.Hour
)

// PendingGrant is an issued, not yet redeemed authorization code.
type PendingGrant struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewPendingGrant binds a fresh code to the requesting client and redirect target.
func NewPendingGrant(code, clientID, redirectURI string, now time.Time) *PendingGrant {
	return &PendingGrant{
		Code:        code,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(PendingGrantTTL),
	}
}

// IsExpired reports whether the grant can no longer be redeemed at now.
func (g *PendingGrant) IsExpired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Matches reports whether a redemption request carries the grant's exact bindings.
func (g *PendingGrant) Matches(clientID, redirectURI string) bool {
	return g.ClientID == clientID && g.RedirectURI == redirectURI
}

// ActiveToken records what a redeemed code produced. It is keyed by the code
// so a replayed code can find and revoke every access token issued from it,
// including those minted later through refresh.
type ActiveToken struct {
	Code         string    `json:"code"`
	AccessToken  string    `json:"access_token"`
	TokenIDs     []string  `json:"token_ids"`
	RefreshToken string    `json:"refresh_token"`
	ClientID     string    `json:"client_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewActiveToken records the first issuance for a code.
func NewActiveToken(code, clientID string, issued IssuedToken, now time.Time) *ActiveToken {
	return &ActiveToken{
		Code:         code,
		AccessToken:  issued.AccessToken,
		TokenIDs:     []string{issued.TokenID},
		RefreshToken: issued.RefreshToken,
		ClientID:     clientID,
		CreatedAt:    now,
		ExpiresAt:    issued.ExpiresAt,
	}
}

// Rotate records a refresh-driven reissue. Earlier token IDs are kept so they
// can still be revoked while they remain valid.
func (a *ActiveToken) Rotate(issued IssuedToken) {
	a.AccessToken = issued.AccessToken
	a.TokenIDs = append(a.TokenIDs, issued.TokenID)
	a.RefreshToken = issued.RefreshToken
	a.ExpiresAt = issued.ExpiresAt
}

// RemainingLifetime is how long the newest access token stays valid after now.
// Older tokens expire no later than the newest one.
func (a *ActiveToken) RemainingLifetime(now time.Time) time.Duration {
	if d := a.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IssuedToken is one access/refresh pair handed to a client.
type IssuedToken struct {
	AccessToken  string
	TokenID      string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// RefreshTokenRecord is a valid refresh token. Refresh tokens carry no expiry;
// they live until rotated or revoked. Code links the token back to the grant
// it descends from.
type RefreshTokenRecord struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}
