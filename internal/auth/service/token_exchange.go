package service

import (
	"context"
	"errors"
	"time"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/platform/sentinel"
	"grantd/pkg/requestcontext"
)

// exchangeAuthorizationCode redeems a code. The pending grant is popped before
// anything else is checked, so every attempt, failed or not, spends the code.
func (s *Service) exchangeAuthorizationCode(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	now := requestcontext.Now(ctx)

	grant, err := s.grants.Pop(ctx, req.Code, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.revokeReplayedCode(ctx, req.Code, now)
		return nil, dErrors.New(dErrors.CodeNotFound, "grant not found")
	case errors.Is(err, sentinel.ErrExpired):
		return nil, dErrors.New(dErrors.CodeNotFound, "grant not found")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem authorization code")
	}

	if !grant.Matches(req.ClientID, req.RedirectURI) {
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "grant mismatch")
	}

	issued, err := s.issueTokens(now)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.activeTokens.Create(ctx, models.NewActiveToken(grant.Code, grant.ClientID, issued, now)); err != nil {
			return err
		}
		return s.refreshTokens.Create(ctx, &models.RefreshTokenRecord{
			Token:     issued.RefreshToken,
			ClientID:  grant.ClientID,
			Code:      grant.Code,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist issued tokens")
	}

	s.logAudit(ctx, audit.EventTokenIssued, grant.ClientID, "")
	return tokenResult(issued), nil
}

// revokeReplayedCode handles a code that is no longer pending. If it was
// redeemed before, everything issued from it is revoked (RFC 6749 §4.1.2):
// access token IDs go on the revocation list for their remaining lifetime and
// the live refresh token is deleted. Failures are logged; the caller still
// answers "grant not found".
func (s *Service) revokeReplayedCode(ctx context.Context, code string, now time.Time) {
	active, err := s.activeTokens.Pop(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to look up tokens for replayed code", "error", err)
		return
	}

	s.metrics.IncReplaysDetected()
	s.logAudit(ctx, audit.EventCodeReplayDetected, active.ClientID, "authorization code presented after redemption")

	if ttl := active.RemainingLifetime(now); ttl > 0 {
		if err := s.revocations.RevokeTokens(ctx, active.TokenIDs, ttl); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke tokens for replayed code",
				"client_id", active.ClientID,
				"tokens", len(active.TokenIDs),
				"error", err,
			)
		}
	}
	if _, err := s.refreshTokens.Pop(ctx, active.RefreshToken); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to delete refresh token for replayed code",
			"client_id", active.ClientID,
			"error", err,
		)
	}
}
