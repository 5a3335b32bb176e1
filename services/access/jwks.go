// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// JWKS Cache
// =============================================================================

const (
	// jwksMinTTL is the floor applied to Cache-Control max-age so a
	// misconfigured upstream cannot make us refetch on every request.
	jwksMinTTL = 30 * time.Second

	// jwksDefaultTTL is used when the fetch response carries no usable
	// cache directive.
	jwksDefaultTTL = 5 * time.Minute

	jwksFetchTimeout = 10 * time.Second
)

var maxAgePattern = regexp.MustCompile(`(?i)max-age=(\d+)`)

// verificationKey is one RSA public key from the issuer's key set.
type verificationKey struct {
	KeyID  string
	Public *rsa.PublicKey
}

type jwksEntry struct {
	keys      []verificationKey
	expiresAt time.Time
}

// jwksCache fetches and caches the issuer's public-key set.
//
// # Description
//
// Keys are cached per issuer with a TTL derived from the fetch response's
// Cache-Control max-age (floored at jwksMinTTL). Concurrent fetches for the
// same issuer are collapsed through singleflight so a cache miss under load
// produces exactly one upstream request.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type jwksCache struct {
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]jwksEntry
	group   singleflight.Group
}

func newJWKSCache(client *http.Client, now func() time.Time) *jwksCache {
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	if now == nil {
		now = time.Now
	}
	return &jwksCache{
		client:  client,
		now:     now,
		entries: make(map[string]jwksEntry),
	}
}

// Keys returns the cached key set for certsURL, fetching if the cache is
// cold or expired. forceRefresh bypasses the cache (used once on a key-id
// miss before failing authentication).
func (c *jwksCache) Keys(ctx context.Context, certsURL string, forceRefresh bool) ([]verificationKey, error) {
	cacheKey := strings.ToLower(certsURL)

	if !forceRefresh {
		c.mu.Lock()
		entry, ok := c.entries[cacheKey]
		c.mu.Unlock()
		if ok && entry.expiresAt.After(c.now()) {
			return entry.keys, nil
		}
	}

	// Collapse concurrent refreshes for the same issuer. A forced refresh
	// uses a distinct flight key so it cannot be satisfied by an in-flight
	// stale fetch that started before the key rotation.
	flightKey := cacheKey
	if forceRefresh {
		flightKey = cacheKey + "#force"
	}
	result, err, _ := c.group.Do(flightKey, func() (any, error) {
		return c.fetch(ctx, certsURL, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	return result.([]verificationKey), nil
}

func (c *jwksCache) fetch(ctx context.Context, certsURL, cacheKey string) ([]verificationKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certsURL, nil)
	if err != nil {
		return nil, certFetchFailed("building key-set request: " + err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, certFetchFailed("unable to fetch access certificate set")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, certFetchFailed(fmt.Sprintf("certificate set fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, certFetchFailed("reading certificate set response")
	}

	keys, err := parseJWKS(body)
	if err != nil {
		return nil, certFetchFailed("access certificate set is invalid")
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))
	c.mu.Lock()
	c.entries[cacheKey] = jwksEntry{keys: keys, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	slog.Debug("Refreshed access key set",
		"url", certsURL,
		"keys", len(keys),
		"ttl", ttl.String())

	return keys, nil
}

// cacheTTL derives the cache lifetime from a Cache-Control header value.
func cacheTTL(cacheControl string) time.Duration {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return jwksDefaultTTL
	}
	seconds, err := strconv.Atoi(m[1])
	if err != nil {
		return jwksDefaultTTL
	}
	ttl := time.Duration(seconds) * time.Second
	if ttl < jwksMinTTL {
		return jwksMinTTL
	}
	return ttl
}

// =============================================================================
// JWK Parsing
// =============================================================================

type rawJWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type rawJWKS struct {
	Keys []rawJWK `json:"keys"`
}

// parseJWKS converts the issuer's JWKS document into RSA public keys.
// Non-RSA entries are skipped; an empty result is an error.
func parseJWKS(body []byte) ([]verificationKey, error) {
	var doc rawJWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}
	if len(doc.Keys) == 0 {
		return nil, fmt.Errorf("JWKS contains no keys")
	}

	keys := make([]verificationKey, 0, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSA(jwk)
		if err != nil {
			slog.Warn("Skipping unparsable JWK entry", "kid", jwk.Kid, "error", err)
			continue
		}
		keys = append(keys, verificationKey{KeyID: jwk.Kid, Public: pub})
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("JWKS contains no usable RSA keys")
	}
	return keys, nil
}

func jwkToRSA(jwk rawJWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 || e.Int64() > 1<<31 {
		return nil, fmt.Errorf("exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
