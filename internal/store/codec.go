package store

import "encoding/json"

// encodeJSON marshals v for a TEXT/BLOB column. nil-able inputs encode
// to "null" rather than an error so columns stay scannable.
func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeJSON unmarshals column data into out. Empty columns are treated
// as absent values, not errors.
func decodeJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
