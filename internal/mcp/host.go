// Package mcp describes the external tool servers the agent discovers tools
// from at runtime, using the Model Context Protocol.
//
// The connection handling lives in [mcphost]; this package only holds the
// configuration shared by the config loader and the host.
package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// Transport is how the host reaches a server.
type Transport string

const (
	// TransportStdio runs the server as a child process over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportStreamableHTTP speaks MCP Streamable HTTP to a URL.
	TransportStreamableHTTP Transport = "streamable-http"
)

// UnmarshalText accepts the transport names case-insensitively, plus "http"
// as a shorthand for streamable-http. Unknown names are kept verbatim so
// [ServerConfig.Validate] can report them.
func (t *Transport) UnmarshalText(b []byte) error {
	switch s := strings.ToLower(strings.TrimSpace(string(b))); s {
	case "http", "streamable_http", "streamablehttp":
		*t = TransportStreamableHTTP
	case string(TransportStdio), string(TransportStreamableHTTP):
		*t = Transport(s)
	default:
		*t = Transport(string(b))
	}
	return nil
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and tool listings. Must be unique.
	Name string `yaml:"name"`

	// Transport is "stdio" or "streamable-http".
	Transport Transport `yaml:"transport"`

	// Command is the executable and its arguments for stdio servers.
	// Example: "/usr/local/bin/mcp-weather --units metric"
	Command string `yaml:"command,omitempty"`

	// URL is the endpoint of a streamable-http server.
	URL string `yaml:"url,omitempty"`

	// Env is added to the environment of a stdio server process.
	Env map[string]string `yaml:"env,omitempty"`

	// Headers are sent with every request to a streamable-http server, e.g.
	// an Authorization header.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Validate checks that cfg names a server and carries what its transport
// needs.
func (cfg ServerConfig) Validate() error {
	var errs []error
	if cfg.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			errs = append(errs, fmt.Errorf("server %q: stdio transport requires a command", cfg.Name))
		}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			errs = append(errs, fmt.Errorf("server %q: streamable-http transport requires a url", cfg.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("server %q: unknown transport %q (want stdio or streamable-http)", cfg.Name, cfg.Transport))
	}
	return errors.Join(errs...)
}

// ToolStats summarises recent calls of one discovered tool.
type ToolStats struct {
	Name      string  `json:"name"`
	Server    string  `json:"server"`
	Calls     int     `json:"calls"`
	P50Ms     int64   `json:"p50_ms"`
	P99Ms     int64   `json:"p99_ms"`
	ErrorRate float64 `json:"error_rate"`
}
