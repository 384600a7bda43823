// Package decode turns loosely typed bus payloads into concrete structs.
package decode

import (
	"encoding/json"
	"fmt"
)

// Into accepts a T, *T, JSON bytes/string, or an already-decoded map and
// fills dst.
func Into[T any](src any, dst *T) error {
	switch v := src.(type) {
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return fmt.Errorf("decode: nil %T", v)
		}
		*dst = *v
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case nil:
		return fmt.Errorf("decode: nil payload")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
