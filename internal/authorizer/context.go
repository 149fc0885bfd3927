package authorizer

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/avawsgw/internal/util"
)

// ContextValueTypeMessage is the message returned for authorizer context
// values that are not primitives.
const ContextValueTypeMessage = "Authorizer response context values must be of type string, number, or boolean"

// ValidateContext checks that every context value is a string, number or
// boolean and returns the context with all values converted to strings.
func ValidateContext(ctx map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		s, ok := stringify(v)
		if !ok {
			return nil, util.NewStatusError(http.StatusInternalServerError, ContextValueTypeMessage)
		}
		out[k] = s
	}
	return out, nil
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
