// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import "strings"

// =============================================================================
// Fact-Diff Engine
// =============================================================================

// DiffOptions bounds normalization and apply.
type DiffOptions struct {
	// MaxEntriesPerOp caps each of add/update/remove. Range [1, 200].
	MaxEntriesPerOp int
	// MaxFactChars truncates each fact. Range [8, 10000].
	MaxFactChars int
	// MaxBaseTruthEntries caps the merged fact list. Range [1, 5000].
	MaxBaseTruthEntries int
}

// DiffStats reports what ApplyDiff actually did.
type DiffStats struct {
	Removed int
	Updated int
	Added   int
}

func (o DiffOptions) normalize() DiffOptions {
	return DiffOptions{
		MaxEntriesPerOp:     clampInt(orDefault(o.MaxEntriesPerOp, 30), 1, 200),
		MaxFactChars:        clampInt(orDefault(o.MaxFactChars, DefaultLimits().MaxFactChars), 8, 10000),
		MaxBaseTruthEntries: clampInt(orDefault(o.MaxBaseTruthEntries, DefaultLimits().MaxBaseTruthEntries), 1, 5000),
	}
}

// NormalizeDiff coerces an arbitrary diff into a bounded BaseTruthDiff:
// whitespace collapsed, empties dropped, entries truncated, case-insensitive
// dedup, count capped per operation.
func NormalizeDiff(raw BaseTruthDiff, opts DiffOptions) BaseTruthDiff {
	opts = opts.normalize()
	return BaseTruthDiff{
		Add:    normalizeFactList(raw.Add, opts.MaxEntriesPerOp, opts.MaxFactChars),
		Update: normalizeFactList(raw.Update, opts.MaxEntriesPerOp, opts.MaxFactChars),
		Remove: normalizeFactList(raw.Remove, opts.MaxEntriesPerOp, opts.MaxFactChars),
	}
}

// ApplyDiff merges a diff into the current fact list.
//
// # Description
//
// The apply order is fixed and significant: remove, then update, then add.
// An update may reintroduce a fact that removal would have deleted, and a
// later add must not collide with an update's result.
//
//   - Remove matches by case-insensitive substring containment of the
//     removal token within a fact. Coarse but intentional: removal tokens
//     are short topic anchors, and a token contained in an unrelated fact
//     removes it too (preserved behavior).
//   - Update matches by key: the text before the first colon, or the first
//     48 characters when there is no colon. A keyless match becomes an add.
//   - Add skips facts already present (case-insensitive).
//
// The merged list is re-deduplicated and trimmed oldest-first to
// MaxBaseTruthEntries, preserving the most recently asserted facts.
//
// Applying the same diff twice yields the same result as applying it once.
func ApplyDiff(baseTruth []string, diff BaseTruthDiff, opts DiffOptions) ([]string, DiffStats) {
	opts = opts.normalize()
	var stats DiffStats

	next := make([]string, 0, len(baseTruth))
	for _, fact := range baseTruth {
		if clean := normalizeText(fact, opts.MaxFactChars); clean != "" {
			next = append(next, clean)
		}
	}
	next = dedupeFold(next)

	if len(diff.Remove) > 0 {
		tokens := make([]string, 0, len(diff.Remove))
		for _, token := range diff.Remove {
			tokens = append(tokens, strings.ToLower(token))
		}
		kept := next[:0]
		for _, fact := range next {
			lower := strings.ToLower(fact)
			removed := false
			for _, token := range tokens {
				if strings.Contains(lower, token) {
					removed = true
					break
				}
			}
			if removed {
				stats.Removed++
			} else {
				kept = append(kept, fact)
			}
		}
		next = kept
	}

	for _, raw := range diff.Update {
		replacement := normalizeText(raw, opts.MaxFactChars)
		if replacement == "" {
			continue
		}
		key := updateKey(replacement)
		replaced := false
		for i, fact := range next {
			if updateKey(fact) == key {
				next[i] = replacement
				stats.Updated++
				replaced = true
				break
			}
		}
		if !replaced {
			next = append(next, replacement)
			stats.Added++
		}
	}

	for _, raw := range diff.Add {
		fact := normalizeText(raw, opts.MaxFactChars)
		if fact == "" {
			continue
		}
		if containsFold(next, fact) {
			continue
		}
		next = append(next, fact)
		stats.Added++
	}

	next = dedupeFold(next)
	next = trimOldest(next, opts.MaxBaseTruthEntries)

	return next, stats
}

// updateKey derives the replacement key for a fact: the prefix before the
// first colon, or the first 48 characters when no colon is present.
func updateKey(fact string) string {
	prefix := fact
	if idx := strings.Index(fact, ":"); idx > 0 {
		prefix = fact[:idx]
	} else if len(fact) > 48 {
		prefix = fact[:48]
	}
	return strings.ToLower(strings.TrimSpace(prefix))
}

func normalizeFactList(values []string, maxEntries, maxChars int) []string {
	normalized := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		clean := normalizeText(value, maxChars)
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, clean)
		if len(normalized) >= maxEntries {
			break
		}
	}
	return normalized
}

func containsFold(values []string, candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, value := range values {
		if strings.ToLower(value) == lower {
			return true
		}
	}
	return false
}
