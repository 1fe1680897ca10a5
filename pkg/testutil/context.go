package testutil

import (
	"net/http"

	"grantd/pkg/requestcontext"
)

// WithRequestMetadata adds the client metadata the metadata middleware would
// normally attach.
func WithRequestMetadata(req *http.Request, clientIP, userAgent string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent)
	return req.WithContext(ctx)
}

// WithBearer sets an Authorization: Bearer header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
