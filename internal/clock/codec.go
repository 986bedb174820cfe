package clock

import "encoding/json"

// MarshalJSON encodes a VectorClock on the wire exactly as spec.md §6
// describes: a flat object mapping each replica address to its
// counter, plus a distinguished "addr" field naming the owner.
//
//	{"addr": "10.0.0.1:8080", "10.0.0.1:8080": 3, "10.0.0.2:8080": 1}
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(vc.Counter)+1)
	for addr, cnt := range vc.Counter {
		flat[addr] = cnt
	}
	flat["addr"] = vc.Owner
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the wire format produced by MarshalJSON. The
// "addr" key is pulled out as Owner; everything else is a counter.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	counter := make(map[string]uint64, len(flat))
	var owner string
	for key, raw := range flat {
		if key == "addr" {
			if err := json.Unmarshal(raw, &owner); err != nil {
				return err
			}
			continue
		}
		var cnt uint64
		if err := json.Unmarshal(raw, &cnt); err != nil {
			return err
		}
		counter[key] = cnt
	}

	vc.Owner = owner
	vc.Counter = counter
	return nil
}
