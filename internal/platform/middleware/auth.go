package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tokencodec "grantd/internal/token_codec"
	"grantd/pkg/platform/middleware/request"
	"grantd/pkg/requestcontext"
)

// TokenDecoder decrypts and validates bearer access tokens.
type TokenDecoder interface {
	Decode(token string, now time.Time) (*tokencodec.AccessClaims, error)
}

// RevocationChecker reports whether a token ID was revoked before expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type contextKeyClaims struct{}

// GetClaims retrieves the decoded access token claims from the context.
func GetClaims(ctx context.Context) *tokencodec.AccessClaims {
	claims, _ := ctx.Value(contextKeyClaims{}).(*tokencodec.AccessClaims)
	return claims
}

// WithClaims stores decoded access token claims in the context.
func WithClaims(ctx context.Context, claims *tokencodec.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, contextKeyClaims{}, claims)
	return requestcontext.WithTokenID(ctx, claims.ID)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireBearer admits requests carrying a valid, unrevoked access token.
// revocations may be nil, in which case only the token itself is checked.
func RequireBearer(decoder TokenDecoder, revocations RevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := decoder.Decode(token, requestcontext.Now(ctx))
			if err != nil {
				desc := "Invalid token"
				if errors.Is(err, tokencodec.ErrExpired) {
					desc = "Token has expired"
				}
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", desc)
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to validate token")
					return
				}
				if revoked {
					logger.WarnContext(ctx, "unauthorized access - token revoked",
						"jti", claims.ID,
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Token has been revoked")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}
