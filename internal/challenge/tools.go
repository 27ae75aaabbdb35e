package challenge

import (
	"context"
	"fmt"

	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// Source returns the challenge tools backed by s.
func Source(s *Solver) tool.Source {
	return tool.NewStaticSource(tool.OriginChallenge, Tools(s)...)
}

// Tools returns the detectChallenge and solveChallenge descriptors. Both report
// the puzzle state as data; only malformed arguments fail the call.
func Tools(s *Solver) []tool.Descriptor {
	return []tool.Descriptor{
		{
			Definition: types.ToolDefinition{
				Name:        "detectChallenge",
				Description: "Check whether the page shows a human-verification challenge (CAPTCHA) and classify it.",
				Parameters:  tool.Object(nil),
			},
			Handler: func(ctx context.Context, _ string) (string, error) {
				det, err := s.Detect(ctx)
				if err != nil {
					return tool.JSON(failed(TypeUnknown, 0, err))
				}
				if det == nil {
					return tool.JSON(map[string]any{"detected": false})
				}
				return tool.JSON(map[string]any{"detected": true, "challenge": det})
			},
		},
		{
			Definition: types.ToolDefinition{
				Name: "solveChallenge",
				Description: "Try to solve the human-verification challenge on the page. " +
					"Returns a status of resolved, exhausted, unsolvable, not_detected or failed.",
				Parameters: tool.Object(map[string]any{
					"maxIterations": tool.Prop("integer",
						fmt.Sprintf("Maximum grid rounds, at most %d (the default).", s.cfg.MaxIterations)),
				}),
			},
			Handler: func(ctx context.Context, args string) (string, error) {
				var in struct {
					MaxIterations int `json:"maxIterations"`
				}
				if err := tool.DecodeArgs(args, &in); err != nil {
					return "", err
				}
				return tool.JSON(s.SolveWithLimit(ctx, in.MaxIterations))
			},
		},
	}
}
