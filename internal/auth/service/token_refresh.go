package service

import (
	"context"
	"errors"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/platform/sentinel"
	"grantd/pkg/requestcontext"
)

// refreshWithRefreshToken spends a refresh token and issues a new access and
// refresh token pair for the same client (rotation).
func (s *Service) refreshWithRefreshToken(ctx context.Context, req *models.TokenRequest) (*models.TokenResult, error) {
	now := requestcontext.Now(ctx)

	record, err := s.refreshTokens.Pop(ctx, req.RefreshToken)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "refresh token not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem refresh token")
	}

	if req.ClientID != "" && req.ClientID != record.ClientID {
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "refresh token client mismatch")
	}

	issued, err := s.issueTokens(now)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.activeTokens.Rotate(ctx, record.Code, issued); err != nil {
			return err
		}
		return s.refreshTokens.Create(ctx, &models.RefreshTokenRecord{
			Token:     issued.RefreshToken,
			ClientID:  record.ClientID,
			Code:      record.Code,
			CreatedAt: now,
		})
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		// The code's lineage was revoked between the pop and the rotation.
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "grant revoked")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist refreshed tokens")
	}

	s.logAudit(ctx, audit.EventTokenRefreshed, record.ClientID, "")
	return tokenResult(issued), nil
}
