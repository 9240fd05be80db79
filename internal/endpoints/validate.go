package endpoints

import (
	"encoding/json"
	"fmt"
)

// ValidationError rejects a body before it reaches the network.
type ValidationError struct {
	Endpoint string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("endpoints: %s: %s", e.Endpoint, e.Reason)
}

// ValidateMessage accepts message bodies carrying content, an embed or a file.
func ValidateMessage(name string) func(body any) error {
	return func(body any) error {
		fields, ok := asFields(body)
		if !ok {
			return &ValidationError{Endpoint: name, Reason: "message body must be an object"}
		}
		for _, k := range []string{"content", "embed", "embeds", "file", "files"} {
			if present(fields[k]) {
				return nil
			}
		}
		return &ValidationError{Endpoint: name, Reason: "content, embeds or file required"}
	}
}

func asFields(body any) (map[string]any, bool) {
	switch v := body.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	}
	return true
}
