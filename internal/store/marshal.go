package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
)

// marshalArgs converts call arguments to canonical JSON TEXT for storage.
func marshalArgs(args []ir.Value) (string, error) {
	if args == nil {
		args = []ir.Value{}
	}
	data, err := ir.MarshalCanonicalArgs(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses canonical JSON TEXT to call arguments.
func unmarshalArgs(data string) ([]ir.Value, error) {
	if data == "" || data == "[]" {
		return []ir.Value{}, nil
	}
	args, err := ir.UnmarshalCanonicalArgs([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// marshalSnapshot stores a profile snapshot as JSON TEXT. Go's encoder
// emits struct fields in declaration order, so the text is stable.
func marshalSnapshot(s profile.Snapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalSnapshot(data string) (profile.Snapshot, error) {
	var s profile.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return profile.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}
