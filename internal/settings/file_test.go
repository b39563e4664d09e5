package settings

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFile_RoundTripKeepsUnknownKeys(t *testing.T) {
	in := `{"hooks": {"PreToolUse": []}, "permissions": {"allow": ["Read"], "ask": ["Bash"]}, "theme": "dark"}`

	var f File
	if err := json.Unmarshal([]byte(in), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff([]string{"Read"}, f.Permissions.Allow); diff != "" {
		t.Errorf("allow mismatch (-want +got):\n%s", diff)
	}
	if raw, ok := f.Extra("theme"); !ok || string(raw) != `"dark"` {
		t.Errorf("Extra(theme) = %s, %v", raw, ok)
	}

	out, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var want, got map[string]any
	if err := json.Unmarshal([]byte(in), &want); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFile_NoPermissions(t *testing.T) {
	var f File
	if err := json.Unmarshal([]byte(`{"model": "x"}`), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(f.Permissions.Allow) != 0 || len(f.Permissions.Deny) != 0 {
		t.Errorf("unexpected permissions: %+v", f.Permissions)
	}
}

func TestFile_BadPermissionsType(t *testing.T) {
	var f File
	err := json.Unmarshal([]byte(`{"permissions": {"allow": "Bash"}}`), &f)
	if err == nil || !strings.Contains(err.Error(), "permissions") {
		t.Errorf("expected permissions error, got %v", err)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}

	var s map[string]any
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", data)
	}
	perm, ok := props["permissions"].(map[string]any)
	if !ok {
		t.Fatalf("schema lacks permissions: %s", data)
	}
	permProps := perm["properties"].(map[string]any)
	for _, key := range []string{"allow", "deny", "defaultMode", "additionalDirectories"} {
		if _, ok := permProps[key]; !ok {
			t.Errorf("permissions schema lacks %q", key)
		}
	}
	mode := permProps["defaultMode"].(map[string]any)
	if diff := cmp.Diff([]any{"default", "acceptEdits", "bypassPermissions", "plan"}, mode["enum"]); diff != "" {
		t.Errorf("defaultMode enum mismatch (-want +got):\n%s", diff)
	}
}
