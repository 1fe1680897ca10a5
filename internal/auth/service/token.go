package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
)

// Token dispatches a token request on its grant type.
func (s *Service) Token(ctx context.Context, req *models.TokenRequest) (result *models.TokenResult, err error) {
	ctx, span := s.startSpan(ctx, "auth.Token")
	defer func() { endSpan(span, err) }()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	req.Normalize()
	span.SetAttributes(
		attribute.String("oauth.grant_type", req.GrantType),
		attribute.String("oauth.client_id", req.ClientID),
	)
	if err := req.Validate(); err != nil {
		s.metrics.IncExchangeFailures(req.GrantType, string(dErrors.CodeValidation))
		return nil, err
	}

	switch models.GrantType(req.GrantType) {
	case models.GrantAuthorizationCode:
		result, err = s.exchangeAuthorizationCode(ctx, req)
	case models.GrantRefreshToken:
		result, err = s.refreshWithRefreshToken(ctx, req)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported grant_type")
	}

	if err != nil {
		s.metrics.IncExchangeFailures(req.GrantType, string(dErrors.CodeOf(err)))
		s.logAudit(ctx, audit.EventTokenExchangeFailed, req.ClientID, err.Error())
		return nil, err
	}
	s.metrics.IncTokensIssued(req.GrantType)
	return result, nil
}
