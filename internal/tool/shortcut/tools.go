package shortcut

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// Source returns the shortcut tools over store as a [tool.Source].
func Source(store Store) tool.Source {
	return tool.NewStaticSource(tool.OriginShortcut, Tools(store)...)
}

// Tools returns the shortcut tool descriptors bound to store.
func Tools(store Store) []tool.Descriptor {
	h := &handlers{store: store}
	return []tool.Descriptor{
		{
			Definition: types.ToolDefinition{
				Name:        "listShortcuts",
				Description: "List the saved shortcuts by name and description.",
				Parameters:  tool.Object(nil),
			},
			Handler: h.list,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "getShortcut",
				Description: "Return the instructions saved under a shortcut name. Follow them as if the user had typed them.",
				Parameters: tool.Object(map[string]any{
					"name": tool.Prop("string", "Shortcut name."),
				}, "name"),
			},
			Handler: h.get,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "saveShortcut",
				Description: "Save instructions under a name so the user can run them again later. An existing shortcut with the same name is replaced.",
				Parameters: tool.Object(map[string]any{
					"name":        tool.Prop("string", "Lower-case name: letters, digits, '-' and '_', at most 64 characters."),
					"description": tool.Prop("string", "One-line summary."),
					"prompt":      tool.Prop("string", "The instructions to replay."),
				}, "name", "prompt"),
			},
			Handler: h.save,
		},
		{
			Definition: types.ToolDefinition{
				Name:        "deleteShortcut",
				Description: "Delete a saved shortcut.",
				Parameters: tool.Object(map[string]any{
					"name": tool.Prop("string", "Shortcut name."),
				}, "name"),
			},
			Handler: h.delete,
		},
	}
}

type handlers struct {
	store Store
}

type nameArgs struct {
	Name string `json:"name"`
}

func (h *handlers) list(ctx context.Context, _ string) (string, error) {
	all, err := h.store.List(ctx)
	if err != nil {
		return "", err
	}
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	out := make([]entry, len(all))
	for i, sc := range all {
		out[i] = entry{Name: sc.Name, Description: sc.Description}
	}
	return tool.JSON(out)
}

func (h *handlers) get(ctx context.Context, args string) (string, error) {
	var in nameArgs
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	sc, err := h.store.Get(ctx, in.Name)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("no shortcut named %q", in.Name)
	}
	if err != nil {
		return "", err
	}
	return tool.JSON(sc)
}

func (h *handlers) save(ctx context.Context, args string) (string, error) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Prompt      string `json:"prompt"`
	}
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	sc := Shortcut{Name: in.Name, Description: in.Description, Prompt: in.Prompt}
	if err := h.store.Save(ctx, sc); err != nil {
		return "", err
	}
	return tool.JSON(map[string]string{"saved": in.Name})
}

func (h *handlers) delete(ctx context.Context, args string) (string, error) {
	var in nameArgs
	if err := tool.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	err := h.store.Delete(ctx, in.Name)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("no shortcut named %q", in.Name)
	}
	if err != nil {
		return "", err
	}
	return tool.JSON(map[string]string{"deleted": in.Name})
}
