package tool

import (
	"encoding/json"
	"time"
)

// Result is the outcome of one tool execution. A failed Result is data for the
// model, never a reason to abort the turn.
type Result struct {
	ToolName string
	Success  bool
	Payload  string
	Error    string
	Duration time.Duration
}

// Content renders the result as the JSON the model sees in the tool message:
// {"success":true,"result":...} or {"success":false,"error":"..."}. A payload
// that is valid JSON is embedded as-is, otherwise as a string.
func (r Result) Content() string {
	type envelope struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
	env := envelope{Success: r.Success}
	if r.Success {
		env.Result = rawOrString(r.Payload)
	} else {
		env.Error = r.Error
	}
	data, err := json.Marshal(env)
	if err != nil {
		return `{"success":false,"error":"unencodable result"}`
	}
	return string(data)
}

func rawOrString(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage(`null`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
