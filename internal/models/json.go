package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ActorList and LabelList are stored as JSON text columns so that the nested
// shapes GitHub returns survive round trips without extra join tables.

// ActorList is a JSON column of actor references.
type ActorList []ActorRef

// Value implements driver.Valuer.
func (a ActorList) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actor list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *ActorList) Scan(src any) error {
	return scanJSON(src, a)
}

// LabelList is a JSON column of label references.
type LabelList []LabelRef

// Value implements driver.Valuer.
func (l LabelList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal label list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *LabelList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}
