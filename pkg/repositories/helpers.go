package repositories

import "encoding/json"

// nullString converts empty strings to nil so they store as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonbValue marshals v for a jsonb column, storing NULL for nil values.
func jsonbValue(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
