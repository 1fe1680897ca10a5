package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestToken_RefreshToken() {
	const (
		refreshToken = "refresh-1"
		clientID     = "client-123"
		code         = "c0de"
	)
	newReq := func() *models.TokenRequest {
		return &models.TokenRequest{
			GrantType:    string(models.GrantRefreshToken),
			RefreshToken: refreshToken,
		}
	}
	record := func() *models.RefreshTokenRecord {
		return &models.RefreshTokenRecord{
			Token:     refreshToken,
			ClientID:  clientID,
			Code:      code,
			CreatedAt: fixedNow.Add(-2 * time.Hour),
		}
	}

	s.Run("rotates the refresh token and extends the lineage", func() {
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(record(), nil)
		accessToken, jti := s.expectEncode("r1")

		var rotated models.IssuedToken
		s.mockActiveTokens.EXPECT().Rotate(gomock.Any(), code, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, issued models.IssuedToken) error {
				rotated = issued
				return nil
			})
		var created *models.RefreshTokenRecord
		s.mockRefreshTokens.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, token *models.RefreshTokenRecord) error {
				created = token
				return nil
			})
		s.expectAudit(audit.EventTokenRefreshed)

		result, err := s.service.Token(s.ctx, newReq())
		s.Require().NoError(err)
		s.Equal(accessToken, result.AccessToken)
		s.Equal("bearer", result.TokenType)
		s.Equal(3600, result.ExpiresIn)
		s.NotEqual(refreshToken, result.RefreshToken)

		s.Equal(jti, rotated.TokenID)
		s.Equal(result.RefreshToken, rotated.RefreshToken)
		s.Require().NotNil(created)
		s.Equal(result.RefreshToken, created.Token)
		s.Equal(clientID, created.ClientID)
		s.Equal(code, created.Code)
	})

	s.Run("matching client_id is accepted", func() {
		req := newReq()
		req.ClientID = clientID
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(record(), nil)
		s.expectEncode("r2")
		s.mockActiveTokens.EXPECT().Rotate(gomock.Any(), code, gomock.Any()).Return(nil)
		s.mockRefreshTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.expectAudit(audit.EventTokenRefreshed)

		_, err := s.service.Token(s.ctx, req)
		s.NoError(err)
	})

	s.Run("unknown refresh token", func() {
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(nil, sentinel.ErrNotFound)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
		s.Contains(err.Error(), "refresh token not found")
	})

	s.Run("different client_id consumes the token and fails", func() {
		req := newReq()
		req.ClientID = "someone-else"
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(record(), nil)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req)
		s.True(dErrors.Is(err, dErrors.CodeInvalidGrant))
	})

	s.Run("revoked lineage is an invalid grant", func() {
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(record(), nil)
		s.expectEncode("r3")
		s.mockActiveTokens.EXPECT().Rotate(gomock.Any(), code, gomock.Any()).Return(sentinel.ErrNotFound)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeInvalidGrant))
		s.Contains(err.Error(), "grant revoked")
	})

	s.Run("store failure is internal", func() {
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), refreshToken).Return(nil, errors.New("timeout"))
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}
