// Package storage - index constraint validation.
package storage

import (
	"fmt"
	"strconv"
)

// validateIndexedFields checks every indexed field present in value against
// its declared type. Absent or nil fields are not a violation; uniqueness is
// enforced separately against live index state.
func validateIndexedFields(cfg *BucketConfig, value Document) error {
	for field, decl := range cfg.Index {
		v, ok := value[field]
		if !ok || v == nil {
			continue
		}
		if err := checkIndexType(v, decl.Type); err != nil {
			return &ConstraintViolationError{
				Kind:    ConstraintFieldType,
				Bucket:  cfg.Name,
				Field:   field,
				Message: err.Error(),
			}
		}
	}
	return nil
}

func checkIndexType(v interface{}, t IndexType) error {
	switch t {
	case IndexString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case IndexNumber:
		if _, ok := numberValue(v); !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
	case IndexBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	default:
		return fmt.Errorf("unknown index type %q", t)
	}
	return nil
}

// numberValue normalizes the numeric types a document value can arrive as
// (native Go ints/floats, or float64 from JSON decoding).
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// indexValueToken builds the canonical token stored in a unique-index key.
// Numbers are normalized so 3 and 3.0 collide, matching index semantics.
func indexValueToken(decl IndexField, v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	switch decl.Type {
	case IndexString:
		s, ok := v.(string)
		if !ok {
			return "", false
		}
		return "s\x00" + s, true
	case IndexNumber:
		n, ok := numberValue(v)
		if !ok {
			return "", false
		}
		return "n\x00" + strconv.FormatFloat(n, 'g', -1, 64), true
	case IndexBoolean:
		b, ok := v.(bool)
		if !ok {
			return "", false
		}
		return "b\x00" + strconv.FormatBool(b), true
	default:
		return "", false
	}
}

// uniqueFields returns the unique-index tokens an object's value occupies.
func uniqueFields(cfg *BucketConfig, value Document) map[string]string {
	var out map[string]string
	for field, decl := range cfg.Index {
		if !decl.Unique {
			continue
		}
		tok, ok := indexValueToken(decl, value[field])
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[field] = tok
	}
	return out
}
