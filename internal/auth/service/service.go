package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"grantd/internal/auth/models"
	"grantd/internal/platform/metrics"
	tokencodec "grantd/internal/token_codec"
	dErrors "grantd/pkg/domain-errors"
	"grantd/pkg/platform/audit"
	"grantd/pkg/requestcontext"
)

// credentialBytes is the entropy behind every code and refresh token (256 bits).
const credentialBytes = 32

// GrantStore holds pending authorization codes.
type GrantStore interface {
	Create(ctx context.Context, grant *models.PendingGrant) error
	Pop(ctx context.Context, code string, now time.Time) (*models.PendingGrant, error)
}

// ActiveTokenStore tracks, per redeemed code, the tokens issued from it.
type ActiveTokenStore interface {
	Create(ctx context.Context, token *models.ActiveToken) error
	Pop(ctx context.Context, code string) (*models.ActiveToken, error)
	Rotate(ctx context.Context, code string, issued models.IssuedToken) error
}

// RefreshTokenStore holds unspent refresh tokens.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshTokenRecord) error
	Pop(ctx context.Context, token string) (*models.RefreshTokenRecord, error)
}

// RevocationList records access tokens revoked before their expiry.
type RevocationList interface {
	RevokeTokens(ctx context.Context, jtis []string, ttl time.Duration) error
}

// TokenCodec mints encrypted access tokens.
type TokenCodec interface {
	Encode(now time.Time) (string, *tokencodec.AccessClaims, error)
}

// AuditPublisher records security and lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service implements the authorization-code grant: it issues codes and
// exchanges codes and refresh tokens for access tokens. Transport concerns
// stay in the handler.
type Service struct {
	grants         GrantStore
	activeTokens   ActiveTokenStore
	refreshTokens  RefreshTokenStore
	revocations    RevocationList
	codec          TokenCodec
	tx             AuthStoreTx
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	entropy        io.Reader
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx sets the transaction boundary used when several stores change together.
func WithTx(tx AuthStoreTx) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithEntropy replaces crypto/rand as the source of codes and refresh tokens.
func WithEntropy(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.entropy = r
		}
	}
}

func New(
	grants GrantStore,
	activeTokens ActiveTokenStore,
	refreshTokens RefreshTokenStore,
	revocations RevocationList,
	codec TokenCodec,
	opts ...Option,
) (*Service, error) {
	if grants == nil {
		return nil, fmt.Errorf("grant store is required")
	}
	if activeTokens == nil {
		return nil, fmt.Errorf("active token store is required")
	}
	if refreshTokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if revocations == nil {
		return nil, fmt.Errorf("revocation list is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}

	s := &Service{
		grants:        grants,
		activeTokens:  activeTokens,
		refreshTokens: refreshTokens,
		revocations:   revocations,
		codec:         codec,
		tx:            InProcessTx{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("grantd/internal/auth/service"),
		entropy:       rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) newCredential() (string, error) {
	buf := make([]byte, credentialBytes)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// issueTokens mints an access token and a fresh refresh token.
func (s *Service) issueTokens(now time.Time) (models.IssuedToken, error) {
	accessToken, claims, err := s.codec.Encode(now)
	if err != nil {
		return models.IssuedToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode access token")
	}
	refreshToken, err := s.newCredential()
	if err != nil {
		return models.IssuedToken{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate refresh token")
	}
	return models.IssuedToken{
		AccessToken:  accessToken,
		TokenID:      claims.ID,
		RefreshToken: refreshToken,
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func tokenResult(issued models.IssuedToken) *models.TokenResult {
	return &models.TokenResult{
		AccessToken:  issued.AccessToken,
		TokenType:    models.TokenTypeBearer,
		ExpiresIn:    int(issued.ExpiresAt.Sub(issued.IssuedAt).Seconds()),
		RefreshToken: issued.RefreshToken,
	}
}

// logAudit logs the event and hands it to the audit publisher if one is set.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, clientID, reason string) {
	attrs := []any{"event", string(event), "log_type", "audit", "client_id", clientID}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if event.Category() == audit.CategorySecurity {
		s.logger.WarnContext(ctx, string(event), attrs...)
	} else {
		s.logger.InfoContext(ctx, string(event), attrs...)
	}

	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:   string(event),
		ClientID: clientID,
		Reason:   reason,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
