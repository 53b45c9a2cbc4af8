package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EntitySnapshot is the engine's view of one roster entity at a point in
// time: an identity plus a flat-ish property bag pulled from the external
// system of record.
type EntitySnapshot struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	ExternalID string         `json:"externalId,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Key returns the identity used to pair snapshots across collections:
// the internal id, falling back to the external id.
func (s EntitySnapshot) Key() string {
	if s.EntityID != "" {
		return s.EntityID
	}
	return s.ExternalID
}

// CanonicalText flattens the snapshot properties into a deterministic set
// of lines. Two snapshots with the same content produce the same lines
// regardless of map iteration order.
func (s EntitySnapshot) CanonicalText() ([]string, error) {
	lines := []string{
		fmt.Sprintf("EntityType: %s", s.EntityType),
		fmt.Sprintf("EntityID: %s", s.Key()),
		"Properties:",
	}

	flattened := map[string]string{}
	if len(s.Properties) > 0 {
		if err := flattenProperties("", s.Properties, flattened); err != nil {
			return nil, err
		}
	}

	if len(flattened) == 0 {
		lines = append(lines, "  (empty)")
		return lines, nil
	}

	keys := make([]string, 0, len(flattened))
	for key := range flattened {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, flattened[key]))
	}

	return lines, nil
}

// ContentHash returns a deterministic hash of the snapshot content.
// Identical content hashes identically independent of field order, which
// is what makes re-detection idempotent.
func (s EntitySnapshot) ContentHash() (string, error) {
	lines, err := s.CanonicalText()
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

// CloneProperties returns a shallow copy of the property bag.
func (s EntitySnapshot) CloneProperties() map[string]any {
	if s.Properties == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(s.Properties))
	for key, value := range s.Properties {
		out[key] = value
	}
	return out
}

func flattenProperties(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			if err := flattenProperties(nextPrefix, typed[key], acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			nextPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				nextPrefix = fmt.Sprintf("[%d]", idx)
			}
			if err := flattenProperties(nextPrefix, item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("property key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}

	return nil
}
