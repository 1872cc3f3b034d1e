package persistence

import (
	"encoding/json"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// Open-shaped task/agent fields persist as JSON text columns; scalars stay
// as real columns so conditional updates can predicate on them.

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalIDs(raw string) ([]domain.EntityID, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []domain.EntityID
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalMetadata(raw string) (domain.Metadata, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var out domain.Metadata
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
