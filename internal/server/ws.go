package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/pagepilot/internal/agent"
	"github.com/MrWong99/pagepilot/internal/observe"
	"github.com/MrWong99/pagepilot/internal/tool"
)

// inboundQueue bounds the client frames buffered while a turn runs.
const inboundQueue = 8

// wsRequest is a client frame.
type wsRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsEvent is a server frame. Type is one of text_delta, tool_call,
// tool_result, turn_complete, reset or error.
type wsEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Args      string `json:"args,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	ToolCalls int    `json:"tool_calls,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// handleWS upgrades to a WebSocket and runs the client's messages as turns,
// one at a time, streaming their progress. Closing the socket cancels the
// running turn.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.metrics.WSConnections.Add(ctx, 1)
	defer s.metrics.WSConnections.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx)
	log.Debug("websocket connected")

	inbound := make(chan wsRequest, inboundQueue)
	go func() {
		defer cancel()
		defer close(inbound)
		for {
			var req wsRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.Debug("websocket read failed", "err", err)
				}
				return
			}
			select {
			case inbound <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range inbound {
		if err := s.serveFrame(ctx, conn, req); err != nil {
			log.Debug("websocket write failed", "err", err)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// serveFrame handles one client frame. It returns an error only when the
// connection can no longer be written to.
func (s *Server) serveFrame(ctx context.Context, conn *websocket.Conn, req wsRequest) error {
	switch req.Type {
	case "reset":
		s.agent.Reset()
		return wsjson.Write(ctx, conn, wsEvent{Type: "reset"})
	case "message":
	default:
		return wsjson.Write(ctx, conn, wsEvent{Type: "error", Error: "unknown frame type " + `"` + req.Type + `"`})
	}

	turnCtx, cancelTurn := s.turnContext(ctx)
	defer cancelTurn()

	l := &wsListener{ctx: ctx, conn: conn, cancel: cancelTurn}
	turn, err := s.agent.Converse(turnCtx, req.Text, l)
	if l.err != nil {
		return l.err
	}
	switch {
	case err == nil:
		return wsjson.Write(ctx, conn, wsEvent{
			Type:      "turn_complete",
			Text:      turn.Text,
			Steps:     turn.Steps,
			ToolCalls: turn.ToolCalls,
			Outcome:   turn.Outcome,
		})
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return wsjson.Write(ctx, conn, wsEvent{Type: "error", Error: "turn timed out"})
	default:
		return wsjson.Write(ctx, conn, wsEvent{Type: "error", Error: err.Error()})
	}
}

// wsListener streams turn progress to the socket. The first write failure
// cancels the turn and suppresses further writes.
type wsListener struct {
	ctx    context.Context
	conn   *websocket.Conn
	cancel context.CancelFunc
	err    error
}

func (l *wsListener) send(ev wsEvent) {
	if l.err != nil {
		return
	}
	if err := wsjson.Write(l.ctx, l.conn, ev); err != nil {
		l.err = err
		l.cancel()
	}
}

func (l *wsListener) OnTextDelta(text string) {
	l.send(wsEvent{Type: "text_delta", Text: text})
}

func (l *wsListener) OnToolCall(name, args string) {
	l.send(wsEvent{Type: "tool_call", Tool: name, Args: args})
}

func (l *wsListener) OnToolResult(name string, result tool.Result) {
	ok := result.Success
	ev := wsEvent{Type: "tool_result", Tool: name, Success: &ok}
	if ok {
		ev.Result = result.Payload
	} else {
		ev.Error = result.Error
	}
	l.send(ev)
}

// OnTurnComplete is a no-op: the turn_complete frame is sent once Converse
// returns, with the step count and outcome.
func (l *wsListener) OnTurnComplete(string) {}

var _ agent.Listener = (*wsListener)(nil)
