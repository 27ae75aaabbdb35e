package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/pagepilot/pkg/page"
)

// Detection describes a challenge found on the page.
type Detection struct {
	Type     Type   `json:"type"`
	Selector string `json:"selector"`
	Question string `json:"question,omitempty"`
}

// Detect inspects the page once. It returns nil and no error when no
// challenge is present.
func Detect(ctx context.Context, s page.Surface) (*Detection, error) {
	return detect(ctx, s, DefaultMarkers)
}

func detect(ctx context.Context, s page.Surface, m Markers) (*Detection, error) {
	var raw struct {
		Type     string `json:"type"`
		Selector string `json:"selector"`
		Question string `json:"question"`
	}
	if err := runDOM(ctx, s, detectScript(m), &raw); err != nil {
		return nil, fmt.Errorf("challenge: detect: %w", err)
	}
	if raw.Type == "" {
		return nil, nil
	}
	d := &Detection{Selector: raw.Selector, Question: raw.Question}
	_ = d.Type.UnmarshalText([]byte(raw.Type))
	return d, nil
}

// runDOM evaluates a script following the {ok, error} convention and decodes
// the result into out.
func runDOM(ctx context.Context, s page.Surface, code string, out any) error {
	v, err := s.RunScript(ctx, code)
	if err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected script result %T", v)
	}
	if okVal, _ := obj["ok"].(bool); !okVal {
		msg, _ := obj["error"].(string)
		if msg == "" {
			msg = "page script failed"
		}
		return errors.New(msg)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
