package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LooseString accepts a JSON string, number or boolean and keeps its text.
// Codes such as codeTournee or id show up either way. null and false read
// as "". Objects and arrays are rejected.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = LooseString(v)
	case data[0] == '{':
		return fmt.Errorf("expected a string, got an object")
	case data[0] == '[':
		return fmt.Errorf("expected a string, got an array")
	default:
		*s = LooseString(data)
	}
	return nil
}

// storedText decodes a field of a row already on the backend. It never
// fails: composites keep their compact JSON text so the row survives.
type storedText string

func (s *storedText) UnmarshalJSON(data []byte) error {
	var ls LooseString
	if err := ls.UnmarshalJSON(data); err == nil {
		*s = storedText(ls)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*s = storedText(buf.String())
	return nil
}

// optional maps an absent, null or empty stored value to nil.
func (s *storedText) optional() *string {
	if s == nil || *s == "" {
		return nil
	}
	return s.ptr()
}

// ptr keeps the null/present distinction of the stored value.
func (s *storedText) ptr() *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// storedNumber decodes a number that may have been saved as a string.
// Anything that is not a finite number reads as nil.
type storedNumber struct {
	value *float64
}

func (n *storedNumber) UnmarshalJSON(data []byte) error {
	n.value = nil
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		data = bytes.TrimSpace([]byte(v))
	}
	var f float64
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || json.Unmarshal(data, &f) != nil {
		return nil
	}
	n.value = &f
	return nil
}
