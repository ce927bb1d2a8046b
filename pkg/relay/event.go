package relay

import (
	"encoding/json"
	"fmt"
)

// Event is one invocation payload. It is either the direct payload
// ({"url": "..."}) or an API gateway envelope whose string "body" field
// holds the JSON payload.
type Event map[string]any

// Response is the envelope returned to the invoker.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Result is the JSON body of a successful response.
type Result struct {
	Message      string `json:"message"`
	StatusCode   int    `json:"status_code"`
	ResponseData any    `json:"response_data"`
}

// ErrorBody is the JSON body of a failed response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Payload returns the effective payload of an event.
//
// A string "body" field is parsed as a JSON object; anything that is not a
// JSON object yields an empty payload. Without a string body the event
// itself is the payload.
func (e Event) Payload() map[string]any {
	raw, ok := e["body"].(string)
	if !ok {
		return e
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return map[string]any{}
	}
	return payload
}

// ResolveURL returns the target URL of an event, falling back to defaultURL
// only when the payload has no url key. An explicit null resolves to the
// empty string and non-string values are formatted as-is; both later fail
// URL validation.
func ResolveURL(event Event, defaultURL string) string {
	v, ok := event.Payload()["url"]
	if !ok {
		return defaultURL
	}
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
