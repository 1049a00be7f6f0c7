package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type shape int

const (
	shapeEmpty shape = iota
	shapeArray
	shapeObject
)

// envelope is a response body whose top-level shape has been detected once:
// a bare array, or an object whose fields are probed by candidate name.
type envelope struct {
	shape  shape
	array  json.RawMessage
	fields map[string]json.RawMessage
}

func parseEnvelope(raw []byte) (envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return envelope{shape: shapeEmpty}, nil
	}
	switch raw[0] {
	case '[':
		return envelope{shape: shapeArray, array: raw}, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return envelope{}, fmt.Errorf("backend: decode envelope: %w", err)
		}
		return envelope{shape: shapeObject, fields: fields}, nil
	default:
		return envelope{}, fmt.Errorf("backend: unexpected response shape: %.40s", raw)
	}
}

// list returns the bare array, or the first candidate field holding a
// non-empty array. An empty array is used only when no candidate has items.
func (e envelope) list(candidates ...string) json.RawMessage {
	switch e.shape {
	case shapeArray:
		return e.array
	case shapeObject:
		var fallback json.RawMessage
		for _, name := range candidates {
			raw, ok := e.fields[name]
			raw = bytes.TrimSpace(raw)
			if !ok || len(raw) == 0 || raw[0] != '[' {
				continue
			}
			if !isEmptyArray(raw) {
				return raw
			}
			if fallback == nil {
				fallback = raw
			}
		}
		return fallback
	}
	return nil
}

// object returns the first candidate field holding a JSON object.
func (e envelope) object(candidates ...string) json.RawMessage {
	if e.shape != shapeObject {
		return nil
	}
	for _, name := range candidates {
		raw := bytes.TrimSpace(e.fields[name])
		if len(raw) > 0 && raw[0] == '{' {
			return raw
		}
	}
	return nil
}

// number returns the first candidate field holding a number (or numeric string).
func (e envelope) number(candidates ...string) (int, bool) {
	if e.shape != shapeObject {
		return 0, false
	}
	for _, name := range candidates {
		raw, ok := e.fields[name]
		if !ok {
			continue
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			if v, err := strconv.ParseFloat(n.String(), 64); err == nil {
				return int(v), true
			}
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if v, err := strconv.Atoi(s); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func (e envelope) flag(name string) *bool {
	if e.shape != shapeObject {
		return nil
	}
	raw, ok := e.fields[name]
	if !ok {
		return nil
	}
	var v bool
	if json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return &v
}

func isEmptyArray(raw json.RawMessage) bool {
	var items []json.RawMessage
	return json.Unmarshal(raw, &items) == nil && len(items) == 0
}

// decodeList decodes the probed list into []T; a missing list is empty.
func decodeList[T any](e envelope, candidates ...string) ([]T, error) {
	raw := e.list(candidates...)
	out := []T{}
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("backend: decode list: %w", err)
	}
	return out, nil
}

// decodeCodes reads category codes from a list whose items are plain
// strings or objects carrying code/category_code.
func decodeCodes(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("backend: decode codes: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = bytes.TrimSpace(it)
		if len(it) > 0 && it[0] == '"' {
			var s string
			if err := json.Unmarshal(it, &s); err != nil {
				return nil, err
			}
			out = append(out, s)
			continue
		}
		var obj struct {
			Code         string `json:"code"`
			CategoryCode string `json:"category_code"`
		}
		if err := json.Unmarshal(it, &obj); err != nil {
			return nil, fmt.Errorf("backend: decode code item: %w", err)
		}
		if obj.Code != "" {
			out = append(out, obj.Code)
		} else {
			out = append(out, obj.CategoryCode)
		}
	}
	return out, nil
}
