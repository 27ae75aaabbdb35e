package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/tool"
)

const replHelp = `commands:
  /reset   clear the conversation
  /tools   list the available tools
  /quit    exit`

// runREPL reads one message per line from in and streams the answers to out
// until in is exhausted, /quit is entered or ctx is done.
func runREPL(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, "Type a message, or /help.")
	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
			continue
		case "/reset":
			a.Reset()
			fmt.Fprintln(out, "conversation cleared")
			continue
		case "/tools":
			printTools(out, a.Tools())
			continue
		}

		if err := replTurn(ctx, a, line, out); err != nil {
			return err
		}
	}
}

// replTurn runs one turn, printing deltas as they arrive. It returns an
// error only when ctx ends the turn.
func replTurn(ctx context.Context, a *agent.Agent, line string, out io.Writer) error {
	var streamed bool
	l := agent.ListenerFuncs{
		TextDelta: func(text string) {
			streamed = true
			fmt.Fprint(out, text)
		},
		ToolCall: func(name, args string) {
			if streamed {
				fmt.Fprintln(out)
				streamed = false
			}
			fmt.Fprintf(out, "  [%s %s]\n", name, args)
		},
		ToolResult: func(name string, r tool.Result) {
			if r.Success {
				fmt.Fprintf(out, "  [%s ok, %s]\n", name, r.Duration.Round(time.Millisecond))
				return
			}
			fmt.Fprintf(out, "  [%s failed: %s]\n", name, r.Error)
		},
	}

	turn, err := a.Converse(ctx, line, l)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprintf(out, "error: %v\n", err)
		return nil
	}
	if !streamed {
		fmt.Fprint(out, turn.Text)
	}
	fmt.Fprintln(out)
	if turn.Outcome == agent.OutcomeTruncated {
		fmt.Fprintf(out, "  (stopped after %d steps)\n", turn.Steps)
	}
	return nil
}

func printTools(out io.Writer, descs []tool.Descriptor) {
	for _, d := range descs {
		fmt.Fprintf(out, "  %-22s %-10s %s\n", d.Name(), d.Origin, d.Definition.Description)
	}
	fmt.Fprintf(out, "%d tools\n", len(descs))
}
