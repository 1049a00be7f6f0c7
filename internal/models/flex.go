package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// FlexString decodes from either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexString(b)
	if err != nil {
		return err
	}
	*f = FlexString(s)
	return nil
}

func decodeFlexString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("models: expected string or number, got %s", b)
	}
	return n.String(), nil
}

func isCommaSep(r rune) bool { return r == ',' }

func isCodeSep(r rune) bool { return r == ',' || unicode.IsSpace(r) }

// decodeStringList accepts a JSON string (split by sep), a list of strings,
// or a list of objects carrying a "name" field.
func decodeStringList(raw json.RawMessage, sep func(rune) bool) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var out []string
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		out = strings.FieldsFunc(s, sep)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) > 0 && it[0] == '{' {
				var named struct {
					Name string `json:"name"`
				}
				if err := json.Unmarshal(it, &named); err != nil {
					return nil, err
				}
				out = append(out, named.Name)
				continue
			}
			s, err := decodeFlexString(it)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("models: expected string or list, got %s", raw)
	}
	return compact(out), nil
}

// compact trims entries and drops blanks and repeats, keeping first-seen order.
func compact(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts the timestamp shapes seen across backend deployments.
func parseTimestamp(raw json.RawMessage) (*time.Time, error) {
	s, err := decodeFlexString(raw)
	if err != nil || s == "" {
		return nil, err
	}
	if len(raw) > 0 && raw[0] != '"' {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		t := time.Unix(int64(secs), 0).UTC()
		return &t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("models: unrecognised timestamp %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
