// Package automation provides the built-in page actions offered to the model:
// navigation, clicking, typing, scrolling, reading and script evaluation.
//
// All tools act on a [page.Surface]. DOM-level failures such as a missing
// element are reported by the page script as {ok:false,error} and surface as
// handler errors, which the registry turns into failed tool results.
package automation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/page"
	"github.com/MrWong99/pagepilot/pkg/types"
)

const (
	defaultReadChars = 8000
	maxReadChars     = 50000
	defaultLinkLimit = 50
	maxLinkLimit     = 200
	defaultWaitMs    = 5000
	maxWaitMs        = 30000
)

// Source returns the automation tools for s as a [tool.Source].
func Source(s page.Surface) tool.Source {
	return tool.NewStaticSource(tool.OriginAutomation, Tools(s)...)
}

// Tools returns the automation tool descriptors bound to s.
func Tools(s page.Surface) []tool.Descriptor {
	t := &tools{surface: s}
	return []tool.Descriptor{
		{
			Definition: types.ToolDefinition{
				Name:        "navigate",
				Description: "Load a URL in the current tab. A missing scheme defaults to https.",
				Parameters: tool.Object(map[string]any{
					"url": tool.Prop("string", "Absolute URL or host name to open."),
				}, "url"),
			},
			Handler: t.navigate,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "clickElement",
				Description: "Click the first element matching a CSS selector.",
				Parameters: tool.Object(map[string]any{
					"selector": tool.Prop("string", "CSS selector of the element, e.g. #login or button[type=submit]."),
				}, "selector"),
			},
			Handler: t.click,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "typeText",
				Description: "Replace the value of an input, textarea or editable element and optionally submit its form.",
				Parameters: tool.Object(map[string]any{
					"selector": tool.Prop("string", "CSS selector of the field."),
					"text":     tool.Prop("string", "Text to enter."),
					"submit":   tool.Prop("boolean", "Submit the enclosing form afterwards."),
				}, "selector", "text"),
			},
			Handler: t.typeText,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "scrollPage",
				Description: "Scroll the page up, down, to the top or to the bottom.",
				Parameters: tool.Object(map[string]any{
					"direction": map[string]any{
						"type":        "string",
						"description": "Scroll direction.",
						"enum":        []string{"up", "down", "top", "bottom"},
					},
					"amount": tool.Prop("integer", "Pixels for up/down. Defaults to most of a screen."),
				}, "direction"),
			},
			Handler: t.scroll,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "readPageText",
				Description: "Return the visible text of the current page.",
				Parameters: tool.Object(map[string]any{
					"maxChars": tool.Prop("integer", fmt.Sprintf("Maximum characters to return (default %d).", defaultReadChars)),
				}),
			},
			Handler: t.readText,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "extractLinks",
				Description: "List the links on the current page with their text and absolute URL.",
				Parameters: tool.Object(map[string]any{
					"limit": tool.Prop("integer", fmt.Sprintf("Maximum links to return (default %d).", defaultLinkLimit)),
				}),
			},
			Handler: t.links,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "getPageInfo",
				Description: "Return the URL and title of the current page.",
				Parameters:  tool.Object(nil),
			},
			Handler: t.info,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "waitForElement",
				Description: "Wait until an element matching a CSS selector exists.",
				Parameters: tool.Object(map[string]any{
					"selector":  tool.Prop("string", "CSS selector to wait for."),
					"timeoutMs": tool.Prop("integer", fmt.Sprintf("Timeout in milliseconds (default %d, max %d).", defaultWaitMs, maxWaitMs)),
				}, "selector"),
			},
			Handler: t.wait,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "runScript",
				Description: "Evaluate a JavaScript expression in the page and return its JSON value. Promises are awaited.",
				Parameters: tool.Object(map[string]any{
					"code": tool.Prop("string", "JavaScript expression to evaluate."),
				}, "code"),
			},
			Handler: t.runScript,
		},
	}
}

type tools struct {
	surface page.Surface
}

func (t *tools) navigate(ctx context.Context, args string) (string, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	target, err := normalizeURL(in.URL)
	if err != nil {
		return "", err
	}
	if err := t.surface.Navigate(ctx, target); err != nil {
		return "", err
	}
	return t.info(ctx, "{}")
}

func (t *tools) click(ctx context.Context, args string) (string, error) {
	var in struct {
		Selector string `json:"selector"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Selector == "" {
		return "", errors.New("selector is required")
	}
	return t.dom(ctx, clickScript(in.Selector))
}

func (t *tools) typeText(ctx context.Context, args string) (string, error) {
	var in struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
		Submit   bool   `json:"submit"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Selector == "" {
		return "", errors.New("selector is required")
	}
	return t.dom(ctx, typeScript(in.Selector, in.Text, in.Submit))
}

func (t *tools) scroll(ctx context.Context, args string) (string, error) {
	var in struct {
		Direction string `json:"direction"`
		Amount    int    `json:"amount"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	switch in.Direction {
	case "up", "down", "top", "bottom":
	case "":
		in.Direction = "down"
	default:
		return "", fmt.Errorf("direction must be one of up, down, top, bottom; got %q", in.Direction)
	}
	if in.Amount < 0 {
		in.Amount = 0
	}
	return t.dom(ctx, scrollScript(in.Direction, in.Amount))
}

func (t *tools) readText(ctx context.Context, args string) (string, error) {
	var in struct {
		MaxChars int `json:"maxChars"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	limit := clamp(in.MaxChars, defaultReadChars, maxReadChars)

	text, err := t.surface.ExtractPlainText(ctx)
	if err != nil {
		return "", err
	}
	total := utf8.RuneCountInString(text)
	truncated := total > limit
	if truncated {
		text = string([]rune(text)[:limit])
	}
	return tool.JSON(map[string]any{"text": text, "chars": total, "truncated": truncated})
}

func (t *tools) links(ctx context.Context, args string) (string, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	return t.dom(ctx, linksScript(clamp(in.Limit, defaultLinkLimit, maxLinkLimit)))
}

func (t *tools) info(ctx context.Context, _ string) (string, error) {
	u, err := t.surface.CurrentURL(ctx)
	if err != nil {
		return "", err
	}
	title, err := t.surface.CurrentTitle(ctx)
	if err != nil {
		return "", err
	}
	return tool.JSON(map[string]string{"url": u, "title": title})
}

func (t *tools) wait(ctx context.Context, args string) (string, error) {
	var in struct {
		Selector  string `json:"selector"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Selector == "" {
		return "", errors.New("selector is required")
	}
	return t.dom(ctx, waitScript(in.Selector, clamp(in.TimeoutMs, defaultWaitMs, maxWaitMs)))
}

func (t *tools) runScript(ctx context.Context, args string) (string, error) {
	var in struct {
		Code string `json:"code"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Code) == "" {
		return "", errors.New("code is required")
	}
	v, err := t.surface.RunScript(ctx, in.Code)
	if err != nil {
		return "", err
	}
	return tool.JSON(v)
}

// dom runs a DOM script following the {ok, error} convention and returns the
// remaining fields as the payload.
func (t *tools) dom(ctx context.Context, code string) (string, error) {
	v, err := t.surface.RunScript(ctx, code)
	if err != nil {
		return "", err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", fmt.Errorf("unexpected script result %T", v)
	}
	if okVal, _ := obj["ok"].(bool); !okVal {
		msg, _ := obj["error"].(string)
		if msg == "" {
			msg = "page script failed"
		}
		return "", errors.New(msg)
	}
	delete(obj, "ok")
	return tool.JSON(obj)
}

// normalizeURL defaults a missing scheme to https and rejects anything that
// is not http(s) or about:blank.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if raw == "about:blank" {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// clamp returns def for non-positive v and caps v at upper.
func clamp(v, def, upper int) int {
	if v <= 0 {
		return def
	}
	return min(v, upper)
}
