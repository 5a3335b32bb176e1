// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"strings"
	"testing"
)

// TestNewRegistry_Builtins tests the default catalog with no overrides.
func TestNewRegistry_Builtins(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("profile count = %d", len(list))
	}
	// Stable id order for the client catalog.
	wantOrder := []string{"career", "general", "research"}
	for i, p := range list {
		if p.ID != wantOrder[i] {
			t.Errorf("list[%d] = %q, want %q", i, p.ID, wantOrder[i])
		}
		if p.DisplayName == "" || p.Description == "" || p.Prompt() == "" {
			t.Errorf("profile %q is incomplete", p.ID)
		}
	}

	if !r.Has(DefaultProfileID) {
		t.Error("default profile must exist")
	}
}

// TestNewRegistry_Overrides tests prompt replacement and the rejection of
// overrides that name nothing.
func TestNewRegistry_Overrides(t *testing.T) {
	r, err := NewRegistry(map[string]string{"career": "Custom coaching prompt."})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	p, err := r.Get("career")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Prompt() != "Custom coaching prompt." {
		t.Errorf("prompt = %q", p.Prompt())
	}
	if p.DisplayName != "Career" {
		t.Errorf("override must keep display metadata, got %q", p.DisplayName)
	}

	rejections := []map[string]string{
		{"nonexistent": "some prompt"},
		{"Bad Id": "some prompt"},
		{"general": "   "},
	}
	for _, overrides := range rejections {
		if _, err := NewRegistry(overrides); err == nil {
			t.Errorf("overrides %v must be rejected", overrides)
		}
	}
}

// TestRegistry_Get tests default fallback and unknown-id rejection.
func TestRegistry_Get(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	p, err := r.Get("")
	if err != nil {
		t.Fatalf("Get(\"\") failed: %v", err)
	}
	if p.ID != DefaultProfileID {
		t.Errorf("empty id resolved to %q", p.ID)
	}

	if _, err := r.Get("made-up"); err == nil || !strings.Contains(err.Error(), "unknown profile") {
		t.Errorf("unknown id: err = %v", err)
	}
}
