package causal

import "encoding/json"

// History already marshals naturally as {key: VectorClock} since it is
// a map[string]clock.VectorClock and clock.VectorClock implements its
// own MarshalJSON/UnmarshalJSON — no custom codec needed here beyond
// what the compiler derives. This file exists to pin that contract
// down with an explicit round-trip helper used by the wire layer.

// Encode renders h in the wire format spec.md §6 describes for H:
// {"key": {"addr": "...", "replica": 3, ...}, ...}.
func Encode(h History) ([]byte, error) {
	return json.Marshal(h)
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (History, error) {
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return h, nil
}
