package config

import (
	"maps"
	"slices"

	"github.com/MrWong99/pagepilot/internal/mcp"
)

// ConfigDiff describes what changed between two configs. Only fields that
// are applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MCPChanged is true when any server was added, removed or modified.
	MCPChanged bool
	// MCPAdded, MCPRemoved and MCPModified hold server names, sorted.
	MCPAdded    []string
	MCPRemoved  []string
	MCPModified []string
}

// Empty reports whether d carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MCPChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	before := indexServers(old.MCP.Servers)
	after := indexServers(new.MCP.Servers)
	for name, o := range before {
		n, ok := after[name]
		switch {
		case !ok:
			d.MCPRemoved = append(d.MCPRemoved, name)
		case !sameServer(o, n):
			d.MCPModified = append(d.MCPModified, name)
		}
	}
	for name := range after {
		if _, ok := before[name]; !ok {
			d.MCPAdded = append(d.MCPAdded, name)
		}
	}
	slices.Sort(d.MCPAdded)
	slices.Sort(d.MCPRemoved)
	slices.Sort(d.MCPModified)
	d.MCPChanged = len(d.MCPAdded)+len(d.MCPRemoved)+len(d.MCPModified) > 0

	return d
}

func indexServers(servers []mcp.ServerConfig) map[string]mcp.ServerConfig {
	m := make(map[string]mcp.ServerConfig, len(servers))
	for _, s := range servers {
		m[s.Name] = s
	}
	return m
}

func sameServer(a, b mcp.ServerConfig) bool {
	return a.Transport == b.Transport &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		maps.Equal(a.Env, b.Env) &&
		maps.Equal(a.Headers, b.Headers)
}
