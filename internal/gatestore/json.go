package gatestore

import "encoding/json"

// marshalJSONB serialises an arbitrary Go value for storage in a JSONB
// column, treating a nil input as SQL NULL rather than the literal "null".
func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalJSONB decodes a JSONB column into dst, tolerating a NULL/empty
// column by leaving dst untouched.
func unmarshalJSONB(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
