// Package tool holds the agent's tool namespace: the descriptors of every
// callable action and the registry that merges them from their origins.
//
// Four origins contribute descriptors, merged in a fixed order:
//
//	automation  built-in page actions
//	shortcut    saved user instructions
//	challenge   human-verification solver
//	dynamic     tools discovered from MCP servers
//
// Later origins win on a name collision. The registry never fails a call with
// a Go error; every failure becomes a [Result] the model can read.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/pagepilot/pkg/types"
)

// Handler executes a tool. args is the JSON object the model produced. The
// returned string is the tool's payload, usually JSON.
type Handler func(ctx context.Context, args string) (string, error)

// Origin identifies which subsystem contributed a descriptor. The declaration
// order is the canonical merge order.
type Origin int

const (
	OriginAutomation Origin = iota
	OriginShortcut
	OriginChallenge
	OriginDynamic
)

// Origins lists all origins in merge order.
var Origins = []Origin{OriginAutomation, OriginShortcut, OriginChallenge, OriginDynamic}

// String returns the lower-case origin name.
func (o Origin) String() string {
	switch o {
	case OriginAutomation:
		return "automation"
	case OriginShortcut:
		return "shortcut"
	case OriginChallenge:
		return "challenge"
	case OriginDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// MarshalText encodes the origin by name.
func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Descriptor is one entry of the tool namespace. Descriptors are values and
// are never modified after construction.
type Descriptor struct {
	Definition types.ToolDefinition
	Origin     Origin
	Handler    Handler
}

// Name returns the tool's unique name.
func (d Descriptor) Name() string { return d.Definition.Name }

// Object builds a JSON Schema object with the given properties. Names in
// required must be keys of props.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop returns a JSON Schema property of the given type.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// DecodeArgs unmarshals model-produced arguments into v. Empty args decode as
// an empty object.
func DecodeArgs(args string, v any) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// JSON marshals v for use as a handler payload.
func JSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
