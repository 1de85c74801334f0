package calls

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Field is one entry of a call's custom data.
type Field struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// CustomFields is an ordered field-id -> value mapping. The schema lives
// outside this package; nothing here interprets field ids.
type CustomFields []Field

func (f CustomFields) Get(id string) (string, bool) {
	for _, e := range f {
		if e.ID == id {
			return e.Value, true
		}
	}
	return "", false
}

// Set returns f with id set to value, keeping the original position of id.
func (f CustomFields) Set(id, value string) CustomFields {
	out := f.Clone()
	for i := range out {
		if out[i].ID == id {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{ID: id, Value: value})
}

func (f CustomFields) Delete(id string) CustomFields {
	out := make(CustomFields, 0, len(f))
	for _, e := range f {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func (f CustomFields) Clone() CustomFields {
	if f == nil {
		return nil
	}
	out := make(CustomFields, len(f))
	copy(out, f)
	return out
}

// MarshalJSON encodes the fields as one JSON object, keys in field order.
func (f CustomFields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var b bytes.Buffer
	b.WriteByte('{')
	for i, e := range f {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order. Non-string values
// are stored as their JSON text.
func (f *CustomFields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: customData must be an object", ErrValidation)
	}
	out := CustomFields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		out = out.Set(key, s)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeTextarea FieldType = "textarea"
)

// FieldDef describes one externally configured custom field.
type FieldDef struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	Type           FieldType `json:"type"`
	Visible        bool      `json:"visible"`
	IncludeInNotes bool      `json:"includeInNotes"`
	Options        []string  `json:"options,omitempty"`
}

// Schema is the ordered custom field descriptor supplied by configuration.
type Schema []FieldDef

func (s Schema) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(s))
	for i, d := range s {
		if strings.TrimSpace(d.ID) == "" {
			errs = append(errs, fmt.Errorf("field %d: id is required", i))
			continue
		}
		if _, dup := seen[d.ID]; dup {
			errs = append(errs, fmt.Errorf("field %q: duplicate id", d.ID))
		}
		seen[d.ID] = struct{}{}
		switch d.Type {
		case "", FieldTypeText, FieldTypeNumber, FieldTypeDate, FieldTypeCheckbox, FieldTypeTextarea:
		case FieldTypeSelect:
			if len(d.Options) == 0 {
				errs = append(errs, fmt.Errorf("field %q: select requires options", d.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", d.ID, d.Type))
		}
	}
	return errors.Join(errs...)
}

func (s Schema) Lookup(id string) (FieldDef, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return FieldDef{}, false
}

// GenerateNotes renders "Label: value" lines for fields flagged IncludeInNotes,
// in schema order. Empty values are skipped.
func (s Schema) GenerateNotes(fields CustomFields) string {
	var b strings.Builder
	for _, d := range s {
		if !d.IncludeInNotes {
			continue
		}
		v, ok := fields.Get(d.ID)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		label := d.Label
		if label == "" {
			label = d.ID
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}
