package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("token claims are invalid")
)

// TokenClaims is the claim set issued by the identity provider.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type VerifierOptions struct {
	Keys           KeyProvider
	HMACSecret     []byte
	Algorithms     []string
	Issuer         string
	Audience       string
	Leeway         time.Duration
	VerifyIssuedAt bool
}

// TokenVerifier turns a bearer credential into a verified identity. It holds
// no per-request state; the key provider owns the only cache.
type TokenVerifier struct {
	keys   KeyProvider
	secret []byte
	leeway time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

func NewTokenVerifier(opts VerifierOptions) *TokenVerifier {
	v := &TokenVerifier{
		keys:   opts.Keys,
		secret: opts.HMACSecret,
		leeway: opts.Leeway,
		now:    time.Now,
	}

	algs := make([]string, 0, len(opts.Algorithms)+1)
	for _, alg := range opts.Algorithms {
		if strings.HasPrefix(alg, "HS") && len(opts.HMACSecret) == 0 {
			continue
		}
		algs = append(algs, alg)
	}
	if len(opts.HMACSecret) > 0 && !containsString(algs, "HS256") {
		algs = append(algs, "HS256")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if opts.VerifyIssuedAt {
		parserOpts = append(parserOpts, jwt.WithIssuedAt())
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	v.parser = jwt.NewParser(parserOpts...)

	return v
}

// Verify checks signature, expiry and required claims of raw, which must
// already be stripped of its "Bearer " prefix.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*identity.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	// Expiry is decided before any key lookup, so an expired token reports
	// as expired whatever its signature.
	var unverified TokenClaims
	if _, _, err := v.parser.ParseUnverified(raw, &unverified); err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if exp := unverified.ExpiresAt; exp != nil && !v.now().Before(exp.Add(v.leeway)) {
		return nil, ErrExpiredToken
	}

	var claims TokenClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.keyFor(ctx, t)
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}

	id := &identity.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func (v *TokenVerifier) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	alg := t.Method.Alg()
	if strings.HasPrefix(alg, "HS") {
		if len(v.secret) == 0 {
			return nil, ErrUnknownKey
		}
		return v.secret, nil
	}
	if v.keys == nil {
		return nil, ErrUnknownKey
	}
	kid, _ := t.Header["kid"].(string)
	return v.keys.Key(ctx, kid, alg)
}

// classifyTokenError maps golang-jwt errors onto the verifier's sentinels.
// Header and payload were already decoded by ParseUnverified, so a malformed
// error at this point comes from a signature segment that is not base64url.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, ErrKeysUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidSubject),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
}

func containsString(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
