package jsonb

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON is a nullable JSON document column. An empty value is stored as SQL
// NULL rather than the literal "null" so IS NULL filters keep working.
type JSON []byte

// IsNull reports whether the column holds no document.
func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// MarshalJSON returns the stored document or null when empty.
func (j JSON) MarshalJSON() ([]byte, error) {
	if j.IsNull() {
		return []byte("null"), nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("jsonb.JSON: invalid JSON value")
	}
	return append([]byte(nil), j...), nil
}

// UnmarshalJSON stores the provided document.
func (j *JSON) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("jsonb.JSON: invalid JSON payload")
	}
	if string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], data...)
	return nil
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("jsonb.JSON: invalid JSON value")
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb.JSON: unsupported scan type %T", value)
	}
	if !json.Valid(data) {
		return fmt.Errorf("jsonb.JSON: invalid JSON payload")
	}
	*j = append((*j)[:0], data...)
	return nil
}
