package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/siherrmann/retriever/helper"
)

// Metadata holds the JSONB attributes of a document that tier 2 filters on
type Metadata map[string]interface{}

// Select returns the entries whose key is in fields. An empty field list selects nothing.
func (m Metadata) Select(fields []string) Metadata {
	out := Metadata{}
	for _, field := range fields {
		if value, ok := m[field]; ok {
			out[field] = value
		}
	}
	return out
}

// String returns the value of key if it is a string
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal converts Metadata to JSON bytes
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal reads JSON bytes, a JSON string or Metadata. NULL becomes empty metadata.
func (m *Metadata) Unmarshal(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case Metadata:
		*m = v
		return nil
	case string:
		return m.Unmarshal([]byte(v))
	case []byte:
		if err := json.Unmarshal(v, m); err != nil {
			return helper.NewError("unmarshal metadata", err)
		}
		if *m == nil {
			*m = Metadata{}
		}
		return nil
	default:
		return helper.NewError("unmarshal metadata", fmt.Errorf("unsupported type %T", value))
	}
}
