package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

var (
	ErrKeysUnavailable = errors.New("signing keys unavailable")
	ErrUnknownKey      = errors.New("no trusted key matches token")
)

// KeyProvider resolves the verification key for a token header.
type KeyProvider interface {
	Key(ctx context.Context, kid, alg string) (any, error)
}

// KeyRefreshRecorder receives the outcome of every key set refresh.
type KeyRefreshRecorder interface {
	RecordKeyRefresh(result string)
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type trustedKey struct {
	kid string
	alg string
	key any
}

// keyGeneration is one immutable snapshot of a key set. A refresh builds a new
// generation and swaps the pointer; readers holding the old one keep using it.
type keyGeneration struct {
	keys      []trustedKey
	byKID     map[string]trustedKey
	fetchedAt time.Time
}

func newKeyGeneration(keys []trustedKey, fetchedAt time.Time) *keyGeneration {
	g := &keyGeneration{
		keys:      keys,
		byKID:     make(map[string]trustedKey, len(keys)),
		fetchedAt: fetchedAt,
	}
	for _, k := range keys {
		if k.kid != "" {
			g.byKID[k.kid] = k
		}
	}
	return g
}

// lookup finds the key for kid, or the first key usable with alg when the
// token carries no kid.
func (g *keyGeneration) lookup(kid, alg string) (any, bool) {
	if kid != "" {
		k, ok := g.byKID[kid]
		if !ok || !keyMatchesAlg(k, alg) {
			return nil, false
		}
		return k.key, true
	}
	for _, k := range g.keys {
		if keyMatchesAlg(k, alg) {
			return k.key, true
		}
	}
	return nil, false
}

func keyMatchesAlg(k trustedKey, alg string) bool {
	if k.alg != "" && k.alg != alg {
		return false
	}
	switch key := k.key.(type) {
	case ed25519.PublicKey:
		return alg == "EdDSA"
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		switch alg {
		case "ES256":
			return key.Curve == elliptic.P256()
		case "ES384":
			return key.Curve == elliptic.P384()
		case "ES512":
			return key.Curve == elliptic.P521()
		}
		return false
	case []byte:
		return strings.HasPrefix(alg, "HS")
	}
	return false
}

type JWKSOptions struct {
	URL                string
	TTL                time.Duration
	StaleGrace         time.Duration
	FetchTimeout       time.Duration
	MinRefreshInterval time.Duration
	HTTPClient         *http.Client
	Metrics            KeyRefreshRecorder
}

// JWKSClient caches the identity provider's published keys.
//
// A generation younger than TTL is served as is. Between TTL and TTL+StaleGrace
// the stale generation keeps being served while a single background refresh
// runs. With no generation, or one past the grace window, callers wait on the
// single in-flight refresh.
type JWKSClient struct {
	url          string
	httpClient   *http.Client
	ttl          time.Duration
	staleGrace   time.Duration
	fetchTimeout time.Duration
	minRefresh   time.Duration

	current     atomic.Pointer[keyGeneration]
	lastAttempt atomic.Int64
	group       singleflight.Group
	breaker     *gobreaker.CircuitBreaker
	metrics     KeyRefreshRecorder
	now         func() time.Time
}

func NewJWKSClient(opts JWKSOptions) *JWKSClient {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.StaleGrace < 0 {
		opts.StaleGrace = 0
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.FetchTimeout}
	}

	return &JWKSClient{
		url:          opts.URL,
		httpClient:   opts.HTTPClient,
		ttl:          opts.TTL,
		staleGrace:   opts.StaleGrace,
		fetchTimeout: opts.FetchTimeout,
		minRefresh:   opts.MinRefreshInterval,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "jwks",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("jwks circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

func (c *JWKSClient) Key(ctx context.Context, kid, alg string) (any, error) {
	now := c.now()

	if gen := c.current.Load(); gen != nil {
		age := now.Sub(gen.fetchedAt)
		switch {
		case age < c.ttl:
			if key, ok := gen.lookup(kid, alg); ok {
				return key, nil
			}
			// An unknown kid on a fresh set usually means the provider rotated.
			if kid == "" || !c.refreshAllowed(now) {
				return nil, ErrUnknownKey
			}
			fresh, err := c.refresh(ctx)
			if err != nil {
				return nil, ErrUnknownKey
			}
			if key, ok := fresh.lookup(kid, alg); ok {
				return key, nil
			}
			return nil, ErrUnknownKey

		case age < c.ttl+c.staleGrace:
			if c.refreshAllowed(now) {
				c.group.DoChan("jwks", c.fetchAndStore)
			}
			if key, ok := gen.lookup(kid, alg); ok {
				return key, nil
			}
			return nil, ErrUnknownKey
		}
	}

	fresh, err := c.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	if key, ok := fresh.lookup(kid, alg); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

// Warm loads the key set once, typically at startup.
func (c *JWKSClient) Warm(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

type KeySetStatus struct {
	Loaded bool
	Keys   int
	Age    time.Duration
	Stale  bool
}

func (c *JWKSClient) Status() KeySetStatus {
	gen := c.current.Load()
	if gen == nil {
		return KeySetStatus{}
	}
	age := c.now().Sub(gen.fetchedAt)
	return KeySetStatus{
		Loaded: true,
		Keys:   len(gen.keys),
		Age:    age,
		Stale:  age >= c.ttl,
	}
}

func (c *JWKSClient) refreshAllowed(now time.Time) bool {
	last := c.lastAttempt.Load()
	return last == 0 || now.Sub(time.Unix(0, last)) >= c.minRefresh
}

// refresh waits for the shared refresh. Cancelling ctx stops the wait, not the
// fetch other callers may be waiting on.
func (c *JWKSClient) refresh(ctx context.Context) (*keyGeneration, error) {
	ch := c.group.DoChan("jwks", c.fetchAndStore)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keyGeneration), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *JWKSClient) fetchAndStore() (any, error) {
	c.lastAttempt.Store(c.now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "breaker_open"
		}
		c.record(result)
		slog.Warn("jwks refresh failed", "url", c.url, "error", err)
		return nil, err
	}

	gen := out.(*keyGeneration)
	c.current.Store(gen)
	c.record("ok")
	slog.Info("jwks refreshed", "url", c.url, "keys", len(gen.keys))
	return gen, nil
}

func (c *JWKSClient) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordKeyRefresh(result)
	}
}

func (c *JWKSClient) fetch(ctx context.Context) (*keyGeneration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make([]trustedKey, 0, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub, err := ParseJWK(jwk)
		if err != nil {
			slog.Warn("skipping unusable JWK", "kid", jwk.Kid, "kty", jwk.Kty, "error", err)
			continue
		}
		keys = append(keys, trustedKey{kid: jwk.Kid, alg: jwk.Alg, key: pub})
	}
	if len(keys) == 0 {
		return nil, errors.New("JWKS contains no usable signing keys")
	}

	return newKeyGeneration(keys, c.now()), nil
}

// ParseJWK converts a published JWK into a crypto public key.
func ParseJWK(jwk JWK) (any, error) {
	switch jwk.Kty {
	case "OKP":
		if jwk.Crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported OKP curve: %s", jwk.Crv)
		}
		x, err := decodeSegment(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x: %w", err)
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid Ed25519 key length %d", len(x))
		}
		return ed25519.PublicKey(x), nil

	case "RSA":
		return parseRSAPublicKey(jwk.N, jwk.E)

	case "EC":
		var curve elliptic.Curve
		switch jwk.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC curve: %s", jwk.Crv)
		}
		xb, err := decodeSegment(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x: %w", err)
		}
		yb, err := decodeSegment(jwk.Y)
		if err != nil {
			return nil, fmt.Errorf("failed to decode y: %w", err)
		}
		x, y := new(big.Int).SetBytes(xb), new(big.Int).SetBytes(yb)
		if !curve.IsOnCurve(x, y) {
			return nil, errors.New("EC point is not on curve")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("unsupported key type: %s", jwk.Kty)
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := decodeSegment(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := decodeSegment(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 || len(nBytes) == 0 {
		return nil, errors.New("empty RSA modulus or exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// StaticKey is a fixed verification key.
type StaticKey struct {
	KID string
	Alg string
	Key any
}

// StaticKeys serves a fixed key set. Used for shared-secret development setups
// and in tests.
type StaticKeys struct {
	gen *keyGeneration
}

func NewStaticKeys(keys ...StaticKey) *StaticKeys {
	trusted := make([]trustedKey, 0, len(keys))
	for _, k := range keys {
		trusted = append(trusted, trustedKey{kid: k.KID, alg: k.Alg, key: k.Key})
	}
	return &StaticKeys{gen: newKeyGeneration(trusted, time.Now())}
}

func (s *StaticKeys) Key(_ context.Context, kid, alg string) (any, error) {
	if key, ok := s.gen.lookup(kid, alg); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}
