package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/mock/gomock"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestToken_Validation() {
	cases := []struct {
		name string
		req  models.TokenRequest
	}{
		{"missing grant_type", models.TokenRequest{Code: "abc", ClientID: "c", RedirectURI: "https://a.example/cb"}},
		{"unsupported grant_type", models.TokenRequest{GrantType: "password"}},
		{"missing code", models.TokenRequest{GrantType: "authorization_code", ClientID: "c", RedirectURI: "https://a.example/cb"}},
		{"missing client_id", models.TokenRequest{GrantType: "authorization_code", Code: "abc", RedirectURI: "https://a.example/cb"}},
		{"relative redirect_uri", models.TokenRequest{GrantType: "authorization_code", Code: "abc", ClientID: "c", RedirectURI: "/cb"}},
		{"missing refresh_token", models.TokenRequest{GrantType: "refresh_token"}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := tc.req
			result, err := s.service.Token(s.ctx, &req)
			s.Nil(result)
			s.True(dErrors.Is(err, dErrors.CodeValidation), "got %v", err)
		})
	}

	s.Run("nil request", func() {
		_, err := s.service.Token(s.ctx, nil)
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestToken_AuthorizationCode() {
	const (
		code        = "c0de"
		clientID    = "client-123"
		redirectURI = "https://client.example/callback"
	)
	newReq := func() *models.TokenRequest {
		return &models.TokenRequest{
			GrantType:   string(models.GrantAuthorizationCode),
			Code:        code,
			ClientID:    clientID,
			RedirectURI: redirectURI,
		}
	}
	pending := func() *models.PendingGrant {
		return models.NewPendingGrant(code, clientID, redirectURI, fixedNow.Add(-time.Minute))
	}

	s.Run("happy path issues and persists tokens", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		accessToken, jti := s.expectEncode("1")

		var active *models.ActiveToken
		s.mockActiveTokens.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, token *models.ActiveToken) error {
				active = token
				return nil
			})
		var refresh *models.RefreshTokenRecord
		s.mockRefreshTokens.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, token *models.RefreshTokenRecord) error {
				refresh = token
				return nil
			})
		s.expectAudit(audit.EventTokenIssued)

		result, err := s.service.Token(s.ctx, newReq())
		s.Require().NoError(err)
		s.Equal(accessToken, result.AccessToken)
		s.Equal("bearer", result.TokenType)
		s.Equal(3600, result.ExpiresIn)
		s.Regexp("^[0-9a-f]{64}$", result.RefreshToken)

		s.Require().NotNil(active)
		s.Equal(code, active.Code)
		s.Equal([]string{jti}, active.TokenIDs)
		s.Equal(result.RefreshToken, active.RefreshToken)
		s.Equal(fixedNow.Add(time.Hour), active.ExpiresAt)

		s.Require().NotNil(refresh)
		s.Equal(result.RefreshToken, refresh.Token)
		s.Equal(clientID, refresh.ClientID)
		s.Equal(code, refresh.Code)
	})

	s.Run("surrounding whitespace on grant_type is tolerated", func() {
		req := newReq()
		req.GrantType = "  authorization_code "
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		s.expectEncode("2")
		s.mockActiveTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockRefreshTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.expectAudit(audit.EventTokenIssued)

		_, err := s.service.Token(s.ctx, req)
		s.NoError(err)
	})

	s.Run("expired grant is not found", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, fmt.Errorf("grant: %w", sentinel.ErrExpired))
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
		s.Contains(err.Error(), "grant not found")
	})

	s.Run("unknown code without prior redemption", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrNotFound)
		s.mockActiveTokens.EXPECT().Pop(gomock.Any(), code).Return(nil, sentinel.ErrNotFound)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("mismatched client spends the code", func() {
		req := newReq()
		req.ClientID = "someone-else"
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req)
		s.True(dErrors.Is(err, dErrors.CodeInvalidGrant))
		s.Contains(err.Error(), "grant mismatch")
	})

	s.Run("mismatched redirect_uri", func() {
		req := newReq()
		req.RedirectURI = "https://client.example/other"
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req)
		s.True(dErrors.Is(err, dErrors.CodeInvalidGrant))
	})

	s.Run("grant store failure is internal", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrUnavailable)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})

	s.Run("codec failure is internal", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		s.mockCodec.EXPECT().Encode(fixedNow).Return("", nil, errors.New("encrypt failed"))
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})

	s.Run("persist failure is internal", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(pending(), nil)
		s.expectEncode("3")
		s.mockActiveTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("write failed"))
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, newReq())
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestToken_CodeReplay() {
	const code = "c0de"
	req := func() *models.TokenRequest {
		return &models.TokenRequest{
			GrantType:   string(models.GrantAuthorizationCode),
			Code:        code,
			ClientID:    "client-123",
			RedirectURI: "https://client.example/callback",
		}
	}
	redeemed := func() *models.ActiveToken {
		return &models.ActiveToken{
			Code:         code,
			AccessToken:  "jwe-2",
			TokenIDs:     []string{"jti-1", "jti-2"},
			RefreshToken: "refresh-2",
			ClientID:     "client-123",
			CreatedAt:    fixedNow.Add(-20 * time.Minute),
			ExpiresAt:    fixedNow.Add(40 * time.Minute),
		}
	}

	s.Run("revokes every token issued from the code", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrNotFound)
		s.mockActiveTokens.EXPECT().Pop(gomock.Any(), code).Return(redeemed(), nil)
		s.expectAudit(audit.EventCodeReplayDetected)
		s.mockRevocations.EXPECT().RevokeTokens(gomock.Any(), []string{"jti-1", "jti-2"}, 40*time.Minute).Return(nil)
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), "refresh-2").Return(&models.RefreshTokenRecord{Token: "refresh-2"}, nil)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("expired lineage skips the revocation list", func() {
		active := redeemed()
		active.ExpiresAt = fixedNow.Add(-time.Second)
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrNotFound)
		s.mockActiveTokens.EXPECT().Pop(gomock.Any(), code).Return(active, nil)
		s.expectAudit(audit.EventCodeReplayDetected)
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), "refresh-2").Return(nil, sentinel.ErrNotFound)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("revocation failure still answers not found", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrNotFound)
		s.mockActiveTokens.EXPECT().Pop(gomock.Any(), code).Return(redeemed(), nil)
		s.expectAudit(audit.EventCodeReplayDetected)
		s.mockRevocations.EXPECT().RevokeTokens(gomock.Any(), gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)
		s.mockRefreshTokens.EXPECT().Pop(gomock.Any(), "refresh-2").Return(nil, sentinel.ErrUnavailable)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("lookup failure still answers not found", func() {
		s.mockGrants.EXPECT().Pop(gomock.Any(), code, fixedNow).Return(nil, sentinel.ErrNotFound)
		s.mockActiveTokens.EXPECT().Pop(gomock.Any(), code).Return(nil, sentinel.ErrUnavailable)
		s.expectAudit(audit.EventTokenExchangeFailed)

		_, err := s.service.Token(s.ctx, req())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}
