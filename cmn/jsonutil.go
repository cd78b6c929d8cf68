package cmn

import jsoniter "github.com/json-iterator/go"

// jsonAPI is configured once and reused, matching the teacher's avoidance
// of encoding/json on paths that dump Snap-like diagnostic state.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MustMarshalString renders v as a JSON string for logging/debugging; on
// error it returns a best-effort placeholder rather than panicking, since
// callers are always diagnostic (trace replay dumps, Snap rendering).
func MustMarshalString(v any) string {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		return "<unmarshalable>"
	}
	return string(b)
}

func UnmarshalString(s string, v any) error {
	return jsonAPI.UnmarshalFromString(s, v)
}
