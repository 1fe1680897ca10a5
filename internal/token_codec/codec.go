// Package tokencodec encrypts and decrypts bearer access tokens.
//
// Tokens are compact JWEs using direct symmetric encryption (alg "dir") with
// AES-128-CBC + HMAC-SHA-256 (enc "A128CBC-HS256"). The payload carries its own
// expiry, so a resource server holding the same secret can validate a token
// without calling back into this service.
package tokencodec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeySize is the direct key length required by A128CBC-HS256 (16-byte MAC key + 16-byte AES key).
const KeySize = 32

var (
	// ErrInvalidKey is returned when the secret is missing or not KeySize bytes.
	ErrInvalidKey = errors.New("token secret must be 32 bytes")
	// ErrInvalidToken covers tampering, corruption, wrong key, and unexpected algorithms.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned for an authentic token past its embedded expiry.
	ErrExpired = errors.New("token expired")
)

// AccessClaims is the encrypted bearer payload.
type AccessClaims struct {
	Read bool `json:"read"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes access tokens with a single symmetric key.
type Codec struct {
	key       []byte
	ttl       time.Duration
	encrypter jose.Encrypter
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL overrides the token lifetime (default one hour).
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New builds a Codec. It fails closed: a key of the wrong size never produces a codec.
func New(key []byte, opts ...Option) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	c := &Codec{
		key: append([]byte(nil), key...),
		ttl: time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}

	encrypter, err := jose.NewEncrypter(
		jose.A128CBC_HS256,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("build encrypter: %w", err)
	}
	c.encrypter = encrypter
	return c, nil
}

// ParseKey decodes a base64 secret (standard or URL alphabet, padded or raw)
// and checks its length.
func ParseKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidKey
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		key, err := enc.DecodeString(secret)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
}

// TTL is the lifetime stamped into each token.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode mints a read-access token issued at now.
func (c *Codec) Encode(now time.Time) (string, *AccessClaims, error) {
	claims := &AccessClaims{
		Read: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("marshal claims: %w", err)
	}
	object, err := c.encrypter.Encrypt(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt token: %w", err)
	}
	token, err := object.CompactSerialize()
	if err != nil {
		return "", nil, fmt.Errorf("serialize token: %w", err)
	}
	return token, claims, nil
}

// Decode authenticates, decrypts and validates a token against now.
func (c *Codec) Decode(token string, now time.Time) (*AccessClaims, error) {
	object, err := jose.ParseEncryptedCompact(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A128CBC_HS256},
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	payload, err := object.Decrypt(c.key)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims AccessClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	validator := jwt.NewValidator(
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err := validator.Validate(claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
