// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package access

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Identity & User Directory
// =============================================================================

// Role is the internal authorization role of an identity.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Identity is the internal identity record resolved from a verified email.
// Computed per request, never persisted by this subsystem.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Alias    string `json:"alias"`
	Role     Role   `json:"role"`
}

// Directory is an explicit email → identity mapping, injective on email.
type Directory map[string]Identity

var (
	userIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]{3,64}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{2,64}$`)
	aliasPattern    = regexp.MustCompile(`^[A-Za-z0-9._ -]{1,64}$`)
	spacesPattern   = regexp.MustCompile(`\s+`)
	unsafePattern   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

type directoryEntry struct {
	Email    string `json:"email"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Alias    string `json:"alias"`
	Role     string `json:"role"`
}

// ParseDirectory parses the JSON user directory from configuration.
//
// # Description
//
// The directory is a JSON array of {email, user_id, username, alias, role}
// objects. Every field is validated against a strict pattern; alias defaults
// to username and role to member. Duplicate emails are rejected so the
// mapping stays injective. Parsed once at startup; an invalid directory is
// a startup failure, not a per-request one.
func ParseDirectory(raw string) (Directory, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var entries []directoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("user directory is not valid JSON: %w", err)
	}

	directory := make(Directory, len(entries))
	for i, entry := range entries {
		email := strings.ToLower(strings.TrimSpace(entry.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("user directory entry %d: invalid email", i)
		}

		userID := strings.TrimSpace(entry.UserID)
		if !userIDPattern.MatchString(userID) {
			return nil, fmt.Errorf("user directory entry %d: invalid user_id", i)
		}

		username := strings.TrimSpace(entry.Username)
		if !usernamePattern.MatchString(username) {
			return nil, fmt.Errorf("user directory entry %d: invalid username", i)
		}

		alias := entry.Alias
		if alias == "" {
			alias = username
		}
		alias = spacesPattern.ReplaceAllString(strings.TrimSpace(alias), " ")
		if !aliasPattern.MatchString(alias) {
			return nil, fmt.Errorf("user directory entry %d: invalid alias", i)
		}

		role := Role(strings.ToLower(strings.TrimSpace(entry.Role)))
		if role == "" {
			role = RoleMember
		}
		if role != RoleAdmin && role != RoleMember {
			return nil, fmt.Errorf("user directory entry %d: invalid role %q", i, entry.Role)
		}

		if _, exists := directory[email]; exists {
			return nil, fmt.Errorf("user directory entry %d: duplicate email", i)
		}

		directory[email] = Identity{
			UserID:   userID,
			Username: username,
			Alias:    alias,
			Role:     role,
		}
	}

	return directory, nil
}

// ResolveIdentity resolves a verified email to an Identity.
//
// With a directory configured, the email must have an entry; a miss is an
// authorization failure at the caller. Without a directory, a deterministic
// member identity is derived: the user id is a hash of the email, the
// username comes from the display-name claim or the email local part.
func ResolveIdentity(directory Directory, email string, claims *Claims) (Identity, error) {
	if directory != nil {
		identity, ok := directory[email]
		if !ok {
			return Identity{}, fmt.Errorf("no user directory entry for allowlisted email")
		}
		return identity, nil
	}

	username := fallbackUsername(claims, email)
	return Identity{
		UserID:   DeriveUserID(email),
		Username: username,
		Alias:    username,
		Role:     RoleMember,
	}, nil
}

// DeriveUserID derives a stable user id from an email (fallback when no
// directory is configured). SHA-256 truncated to 12 bytes keeps ids short
// while staying collision-free at any plausible user count.
func DeriveUserID(email string) string {
	digest := sha256.Sum256([]byte(email))
	return "user_" + hex.EncodeToString(digest[:12])
}

func fallbackUsername(claims *Claims, email string) string {
	if claims != nil {
		fromName := spacesPattern.ReplaceAllString(strings.TrimSpace(claims.Name), "_")
		if fromName != "" && usernamePattern.MatchString(fromName) {
			return fromName
		}
	}

	local, _, _ := strings.Cut(email, "@")
	cleaned := unsafePattern.ReplaceAllString(strings.TrimSpace(local), "_")
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	if cleaned == "" {
		return "authorized_user"
	}
	return cleaned
}
