package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Buttons is an ordered list of robot buttons stored as a JSON column.
type Buttons []RobotButton

// Targets returns the robot ids referenced by the buttons, in order.
func (b Buttons) Targets() []string {
	var ids []string
	for _, btn := range b {
		if btn.RobotID != "" {
			ids = append(ids, btn.RobotID)
		}
	}
	return ids
}

// Value implements driver.Valuer.
func (b Buttons) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal buttons: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (b *Buttons) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("scan buttons: %w", err)
	}
	if len(data) == 0 {
		*b = Buttons{}
		return nil
	}
	return json.Unmarshal(data, b)
}

// Translations maps a locale to translated field values, e.g. {"nl": {"title": "..."}}.
type Translations map[string]map[string]string

// Field returns the translated value of field for locale, if present.
func (t Translations) Field(locale, field string) (string, bool) {
	fields, ok := t[locale]
	if !ok {
		return "", false
	}
	v, ok := fields[field]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Value implements driver.Valuer.
func (t Translations) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal translations: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (t *Translations) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("scan translations: %w", err)
	}
	if len(data) == 0 {
		*t = Translations{}
		return nil
	}
	return json.Unmarshal(data, t)
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", src)
	}
}
