package domain

import "testing"

func TestContentHashIsFieldOrderIndependent(t *testing.T) {
	a := EntitySnapshot{
		EntityType: "user",
		EntityID:   "u-1",
		Properties: map[string]any{
			"givenName":  "Ann",
			"familyName": "Smith",
			"grades":     []any{"9", "10"},
			"org":        map[string]any{"id": "o-1", "name": "North"},
		},
	}
	b := EntitySnapshot{
		EntityType: "user",
		EntityID:   "u-1",
		Properties: map[string]any{
			"org":        map[string]any{"name": "North", "id": "o-1"},
			"grades":     []any{"9", "10"},
			"familyName": "Smith",
			"givenName":  "Ann",
		},
	}

	hashA, err := a.ContentHash()
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := b.ContentHash()
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Errorf("expected identical hashes, got %s vs %s", hashA, hashB)
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	base := EntitySnapshot{
		EntityType: "user",
		EntityID:   "u-1",
		Properties: map[string]any{"givenName": "Ann"},
	}
	changed := EntitySnapshot{
		EntityType: "user",
		EntityID:   "u-1",
		Properties: map[string]any{"givenName": "Anne"},
	}

	hashBase, err := base.ContentHash()
	if err != nil {
		t.Fatalf("hash base: %v", err)
	}
	hashChanged, err := changed.ContentHash()
	if err != nil {
		t.Fatalf("hash changed: %v", err)
	}
	if hashBase == hashChanged {
		t.Error("expected different hashes for different content")
	}
}

func TestContentHashEmptyProperties(t *testing.T) {
	snapshot := EntitySnapshot{EntityType: "user", EntityID: "u-1"}
	first, err := snapshot.ContentHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := snapshot.ContentHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Error("empty snapshot should hash deterministically")
	}
}

func TestKeyFallsBackToExternalID(t *testing.T) {
	snapshot := EntitySnapshot{ExternalID: "ext-1"}
	if got := snapshot.Key(); got != "ext-1" {
		t.Errorf("expected ext-1, got %s", got)
	}

	snapshot.EntityID = "u-1"
	if got := snapshot.Key(); got != "u-1" {
		t.Errorf("expected u-1, got %s", got)
	}
}
