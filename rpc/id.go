package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type idKind uint8

const (
	idNull idKind = iota
	idString
	idNumber
)

// ID identifies a call. It is a string, a number or null; numbers keep
// their original text so they are echoed back unchanged.
type ID struct {
	kind idKind
	text string
}

// NullID is the id of calls that did not carry one.
var NullID = ID{}

// StringID returns a string id.
func StringID(s string) ID { return ID{kind: idString, text: s} }

// NumberID returns a numeric id.
func NumberID(n int64) ID { return ID{kind: idNumber, text: fmt.Sprintf("%d", n)} }

// IDFromValue converts a decoded JSON value into an ID.
func IDFromValue(value any) (ID, bool) {
	switch v := value.(type) {
	case nil:
		return NullID, true
	case string:
		return StringID(v), true
	case json.Number:
		return ID{kind: idNumber, text: v.String()}, true
	case float64:
		return ID{kind: idNumber, text: strconv.FormatFloat(v, 'f', -1, 64)}, true
	case int:
		return NumberID(int64(v)), true
	case int64:
		return NumberID(v), true
	case uint64:
		return ID{kind: idNumber, text: fmt.Sprintf("%d", v)}, true
	}
	return NullID, false
}

// IsNull reports whether the id is null.
func (id ID) IsNull() bool { return id.kind == idNull }

// Key returns a string that is equal for equal ids and distinct across
// kinds ("1" and 1 differ).
func (id ID) Key() string {
	switch id.kind {
	case idString:
		return "s:" + id.text
	case idNumber:
		return "n:" + id.text
	default:
		return "null"
	}
}

// Value returns the id as a decoded JSON value.
func (id ID) Value() any {
	switch id.kind {
	case idString:
		return id.text
	case idNumber:
		return json.Number(id.text)
	default:
		return nil
	}
}

func (id ID) String() string {
	switch id.kind {
	case idString:
		return fmt.Sprintf("%q", id.text)
	case idNumber:
		return id.text
	default:
		return "null"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.text)
	case idNumber:
		return []byte(id.text), nil
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return err
	}
	parsed, ok := IDFromValue(value)
	if !ok {
		return fmt.Errorf("invalid id %s: must be a string, a number or null", data)
	}
	*id = parsed
	return nil
}
