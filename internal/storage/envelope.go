package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the version written by Encode.
//
//	v1: bare JSON values as the original web client stored them
//	v2: {version, savedAt, data} envelope; no stored minutesActive or stage
const SchemaVersion = 2

// Envelope wraps every persisted value.
type Envelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Data    json.RawMessage `json:"data"`
}

// Migration upgrades data from version N to N+1.
type Migration func(data json.RawMessage) (json.RawMessage, error)

// migrations is keyed by the version it upgrades from.
var migrations = map[int]Migration{
	1: migrateV1ToV2,
}

// MigrationResult describes what Decode did.
type MigrationResult struct {
	WasMigrated bool
	FromVersion int
	ToVersion   int
}

// Encode marshals v into a current-version envelope.
func Encode(v interface{}, now time.Time) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return json.Marshal(Envelope{Version: SchemaVersion, SavedAt: now, Data: data})
}

// Decode unwraps raw, migrates it to SchemaVersion and unmarshals into out.
// A value with no envelope is treated as v1.
func Decode(raw []byte, out interface{}) (MigrationResult, error) {
	result := MigrationResult{ToVersion: SchemaVersion}

	data, version, err := unwrap(raw)
	if err != nil {
		return result, err
	}
	result.FromVersion = version
	if version > SchemaVersion {
		return result, fmt.Errorf("stored schema version %d is newer than supported %d", version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return result, fmt.Errorf("no migration from schema version %d", v)
		}
		if data, err = migrate(data); err != nil {
			return result, fmt.Errorf("migration v%d->v%d failed: %w", v, v+1, err)
		}
		result.WasMigrated = true
	}

	if err := json.Unmarshal(data, out); err != nil {
		return result, fmt.Errorf("failed to decode value: %w", err)
	}
	return result, nil
}

func unwrap(raw []byte) (json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("empty value")
	}
	if trimmed[0] == '{' {
		var probe struct {
			Version *int            `json:"version"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, 0, fmt.Errorf("malformed value: %w", err)
		}
		if probe.Version != nil && probe.Data != nil {
			return probe.Data, *probe.Version, nil
		}
	}
	if !json.Valid(trimmed) {
		return nil, 0, fmt.Errorf("malformed value")
	}
	return json.RawMessage(trimmed), 1, nil
}

// migrateV1ToV2 drops fields that are now derived on read (minutesActive,
// stage) and folds the lifetime topic list into topicsExplored. Non-object
// values (event history arrays) pass through unchanged.
func migrateV1ToV2(data json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	delete(obj, "minutesActive")
	delete(obj, "stage")

	if all, ok := obj["allTopicsExplored"].([]interface{}); ok {
		topics, _ := obj["topicsExplored"].([]interface{})
		seen := make(map[interface{}]bool, len(topics))
		for _, t := range topics {
			seen[t] = true
		}
		for _, t := range all {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
		obj["topicsExplored"] = topics
		delete(obj, "allTopicsExplored")
	}
	return json.Marshal(obj)
}
