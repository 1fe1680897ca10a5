package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"grantd/internal/auth/models"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/requestcontext"
)

// Authorize issues a single-use authorization code bound to the client and
// redirect URI. The code stays redeemable for models.PendingGrantTTL.
func (s *Service) Authorize(ctx context.Context, req *models.AuthorizationRequest) (result *models.AuthorizationResult, err error) {
	ctx, span := s.startSpan(ctx, "auth.Authorize")
	defer func() { endSpan(span, err) }()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))

	if err := req.Validate(); err != nil {
		s.metrics.IncGrantsRejected("invalid_request")
		s.logAudit(ctx, audit.EventGrantRejected, req.ClientID, err.Error())
		return nil, err
	}
	if !models.IsValidRedirectURI(req.RedirectURI) {
		s.metrics.IncGrantsRejected("invalid_redirect_uri")
		return nil, dErrors.New(dErrors.CodeValidation, "redirect_uri must be an absolute URL")
	}

	code, err := s.newCredential()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate authorization code")
	}

	now := requestcontext.Now(ctx)
	grant := models.NewPendingGrant(code, req.ClientID, req.RedirectURI, now)
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store authorization code")
	}

	s.metrics.IncGrantsIssued()
	s.logAudit(ctx, audit.EventGrantIssued, req.ClientID, "")

	return &models.AuthorizationResult{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}
