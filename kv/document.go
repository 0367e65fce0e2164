package kv

import (
	"encoding/json"
	"fmt"
)

// Document represents a JSON record in the store.
type Document map[string]interface{}

// RecordID identifies a record within a table.
type RecordID struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

func (r RecordID) String() string {
	return r.Table + ":" + r.Key
}

// Serialize converts a document to JSON bytes.
func (d Document) Serialize() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

// DeserializeDocument creates a document from JSON bytes.
func DeserializeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return d, nil
}

// ID returns the record id stored in the document, if any.
func (d Document) ID() (RecordID, bool) {
	raw, ok := d["id"]
	if !ok {
		return RecordID{}, false
	}
	switch v := raw.(type) {
	case RecordID:
		return v, true
	case string:
		for i := 0; i < len(v); i++ {
			if v[i] == ':' {
				return RecordID{Table: v[:i], Key: v[i+1:]}, true
			}
		}
	}
	return RecordID{}, false
}

// SetID injects the record id into the document.
func (d Document) SetID(rid RecordID) {
	d["id"] = rid.String()
}

// Clone creates a deep copy of the document.
func (d Document) Clone() Document {
	clone := make(Document, len(d))
	for k, v := range d {
		clone[k] = deepCopyValue(v)
	}
	return clone
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]interface{}:
		return Document(val).Clone()
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		// Primitives are immutable or copied by value
		return val
	}
}
