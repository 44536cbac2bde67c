package tags

import "encoding/json"

// PrivateKey is the event extension property holding the persisted tags.
const PrivateKey = "tags"

// EncodePayload serializes s as an explicit JSON list.
func EncodePayload(s Set) string {
	if s == nil {
		s = Set{}
	}
	data, _ := json.Marshal([]string(s))
	return string(data)
}

// DecodePayload parses a persisted tag list. ok is false when raw is not a
// JSON list of strings; blank and duplicate entries are dropped.
func DecodePayload(raw string) (Set, bool) {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return Set{}, false
	}
	norm := make([]string, 0, len(list))
	for _, t := range list {
		norm = append(norm, Normalize(t))
	}
	return Union(norm), true
}
