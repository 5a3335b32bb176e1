// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompts holds the system prompt profiles a chat turn can run
// under. Each profile pairs a stable identifier with a base system prompt;
// deployments can override any prompt through the environment without a
// rebuild.
package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultProfileID is used when a request names no use case.
const DefaultProfileID = "general"

var profileIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Profile is one selectable conversation persona.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	prompt      string
}

// Prompt returns the profile's base system prompt.
func (p Profile) Prompt() string { return p.prompt }

// Registry is an immutable lookup of the configured profiles.
type Registry struct {
	profiles map[string]Profile
	ordered  []string
}

type builtin struct {
	id          string
	displayName string
	description string
	prompt      string
}

var builtins = []builtin{
	{
		id:          "general",
		displayName: "General",
		description: "Everyday questions and conversation.",
		prompt: "You are a helpful, direct assistant. Answer plainly and concisely. " +
			"Say so when you are unsure rather than guessing.",
	},
	{
		id:          "career",
		displayName: "Career",
		description: "Resumes, interviews and professional growth.",
		prompt: "You are a pragmatic career coach. Give concrete, actionable advice " +
			"grounded in what the user has told you about their situation. " +
			"Prefer specific phrasing suggestions over generic encouragement.",
	},
	{
		id:          "research",
		displayName: "Research",
		description: "Deep dives with citations and structured analysis.",
		prompt: "You are a careful research assistant. Structure answers with the key " +
			"finding first, then supporting detail. Distinguish established facts " +
			"from your own inference, and flag claims you cannot verify.",
	},
}

// NewRegistry builds the profile set from the built-in catalog, applying
// any environment overrides. Overrides are keyed PROMPT_<ID> with the
// profile id upper-cased; an override for an unknown id is rejected so a
// typo cannot silently define a prompt nothing serves.
func NewRegistry(overrides map[string]string) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(builtins))}
	for _, b := range builtins {
		r.profiles[b.id] = Profile{
			ID:          b.id,
			DisplayName: b.displayName,
			Description: b.description,
			prompt:      b.prompt,
		}
		r.ordered = append(r.ordered, b.id)
	}

	for id, prompt := range overrides {
		id = strings.ToLower(strings.TrimSpace(id))
		if !profileIDPattern.MatchString(id) {
			return nil, fmt.Errorf("invalid profile id %q in prompt override", id)
		}
		existing, ok := r.profiles[id]
		if !ok {
			return nil, fmt.Errorf("prompt override for unknown profile %q", id)
		}
		if strings.TrimSpace(prompt) == "" {
			return nil, fmt.Errorf("empty prompt override for profile %q", id)
		}
		existing.prompt = prompt
		r.profiles[id] = existing
	}

	sort.Strings(r.ordered)
	return r, nil
}

// Get resolves a profile id, falling back to the default profile for an
// empty id. Unknown ids are an error so a stale client cannot silently
// chat under the wrong persona.
func (r *Registry) Get(id string) (Profile, error) {
	if strings.TrimSpace(id) == "" {
		id = DefaultProfileID
	}
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", id)
	}
	return p, nil
}

// Has reports whether the id names a configured profile.
func (r *Registry) Has(id string) bool {
	_, ok := r.profiles[id]
	return ok
}

// List returns every profile in stable id order, for the client catalog.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.profiles[id])
	}
	return out
}
