// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package access verifies edge identity assertions and resolves them to
// internal identities.
//
// # Description
//
// The gateway sits behind an identity edge (Cloudflare Access) that attaches
// a signed JWT assertion to every request. This package implements the full
// verification pipeline:
//
//	assertion
//	   │
//	   ├─► structural check (three segments, RS256 only)
//	   ├─► signature check against the issuer's cached JWKS
//	   ├─► claim rules (exp, nbf, issuer, audience)
//	   ├─► email allowlist
//	   └─► identity resolution (directory or deterministic fallback)
//
// Verification has no side effects beyond key-cache population. A failed
// assertion is a 401-kind error; a verified-but-unmapped identity is a
// 403-kind error. The distinction is load-bearing for operators reading
// logs: the first means someone unauthenticated knocked, the second means
// the allowlist or directory is out of date.
//
// # Thread Safety
//
// A Verifier is safe for concurrent use by multiple goroutines.
package access

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// certsPath is where the identity edge publishes its signing key set,
// relative to the team domain.
const certsPath = "/cdn-cgi/access/certs"

// VerifierConfig configures a Verifier. All values come from the startup
// configuration; nothing is re-read from the environment afterwards.
type VerifierConfig struct {
	// TeamDomain is the identity provider team domain, with or without
	// scheme (e.g. "example.cloudflareaccess.com").
	TeamDomain string

	// Audience is the application audience tag the assertion must carry.
	Audience string

	// AllowedEmails is the closed set of permitted account emails.
	AllowedEmails []string

	// Directory maps allowlisted emails to identities. When nil, identities
	// are derived deterministically from the email (see ResolveIdentity).
	Directory Directory

	// HTTPClient is used for JWKS fetches. Defaults to a 10s-timeout client.
	HTTPClient *http.Client

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Verifier authenticates inbound identity assertions.
type Verifier struct {
	teamDomain string
	audience   string
	allowed    map[string]struct{}
	directory  Directory
	jwks       *jwksCache
	parser     *jwt.Parser
	now        func() time.Time
}

// NewVerifier builds a Verifier from static configuration.
func NewVerifier(cfg VerifierConfig) *Verifier {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedEmails))
	for _, email := range cfg.AllowedEmails {
		normalized := strings.ToLower(strings.TrimSpace(email))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return &Verifier{
		teamDomain: sanitizeTeamDomain(cfg.TeamDomain),
		audience:   cfg.Audience,
		allowed:    allowed,
		directory:  cfg.Directory,
		jwks:       newJWKSCache(cfg.HTTPClient, now),
		// Signature verification only; claim rules are enforced separately
		// so issuer normalization and error wording stay under our control.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		now: now,
	}
}

// Authenticate verifies an assertion and resolves the caller's identity.
//
// # Inputs
//
//   - ctx: bounds the JWKS fetch, if one is needed.
//   - assertion: the raw three-segment token from the edge header.
//
// # Outputs
//
//   - *AuthContext: verified claims, normalized email, resolved identity.
//   - error: an *AuthError classifying the failure (401 vs 403 vs 503).
func (v *Verifier) Authenticate(ctx context.Context, assertion string) (*AuthContext, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, unauthenticated("missing access assertion")
	}
	if strings.Count(assertion, ".") != 2 {
		return nil, unauthenticated("malformed access assertion")
	}

	claims, err := v.verifySignature(ctx, assertion)
	if err != nil {
		return nil, err
	}

	if err := validateClaims(claims, v.teamDomain, v.audience, v.now()); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, forbidden("email claim missing in access assertion", map[string]any{
			"subject_prefix": SubjectPrefix(claims.Subject),
		})
	}

	if _, ok := v.allowed[email]; !ok {
		return nil, forbidden("user is not allowed for this API", map[string]any{
			"attempted_email_domain": EmailDomain(email),
			"subject_prefix":         SubjectPrefix(claims.Subject),
		})
	}

	identity, err := ResolveIdentity(v.directory, email, claims)
	if err != nil {
		return nil, forbidden("user identity mapping is not configured for this account", map[string]any{
			"attempted_email_domain": EmailDomain(email),
			"subject_prefix":         SubjectPrefix(claims.Subject),
		})
	}

	return &AuthContext{
		Claims:   claims,
		Email:    email,
		Identity: identity,
	}, nil
}

// verifySignature checks the token signature against every key in the
// issuer's set that matches the token's key id. On a key-id miss it forces
// one cache refresh (the issuer may have rotated keys) before failing.
func (v *Verifier) verifySignature(ctx context.Context, assertion string) (*Claims, error) {
	unverified, _, err := v.parser.ParseUnverified(assertion, &Claims{})
	if err != nil {
		return nil, unauthenticated("malformed access assertion payload")
	}
	if alg, _ := unverified.Header["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return nil, unauthenticated("unsupported assertion algorithm")
	}
	kid, _ := unverified.Header["kid"].(string)

	certsURL := "https://" + v.teamDomain + certsPath
	keys, err := v.jwks.Keys(ctx, certsURL, false)
	if err != nil {
		return nil, err
	}

	candidates := filterByKeyID(keys, kid)
	if kid != "" && len(candidates) == 0 {
		keys, err = v.jwks.Keys(ctx, certsURL, true)
		if err != nil {
			return nil, err
		}
		candidates = filterByKeyID(keys, kid)
	}
	if len(candidates) == 0 {
		return nil, unauthenticated("no matching verification key found")
	}

	for _, key := range candidates {
		claims := &Claims{}
		token, err := v.parser.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
			return key.Public, nil
		})
		if err == nil && token.Valid {
			return claims, nil
		}
	}

	return nil, unauthenticated("invalid access assertion signature")
}

func filterByKeyID(keys []verificationKey, kid string) []verificationKey {
	if kid == "" {
		return keys
	}
	var matched []verificationKey
	for _, key := range keys {
		if key.KeyID == kid {
			matched = append(matched, key)
		}
	}
	return matched
}
