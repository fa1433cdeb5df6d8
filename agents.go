package overture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// builtinAgents are always present and their names are reserved. The default
// agent carries no tool list, which resolves to the full registry.
var builtinAgents = []AgentDefinition{
	{
		Name:        "default",
		Description: "General-purpose assistant with the full tool set",
		Mode:        ModeAll,
		BuiltIn:     true,
	},
	{
		Name:        "build",
		Description: "Implements features and fixes: edits files and runs commands",
		Mode:        ModePrimary,
		Tools:       []string{"read", "write", "edit", "glob", "grep", "ls", "bash"},
		Prompt: "You are in build mode. Make the requested change directly: read the relevant " +
			"files, edit them, and verify with the tools available. Prefer small, reviewable edits.",
		BuiltIn: true,
	},
	{
		Name:        "explore",
		Description: "Read-only codebase exploration and question answering",
		Mode:        ModeSubagent,
		Tools:       []string{"read", "glob", "grep", "ls"},
		Prompt: "You are in explore mode. Answer by reading the codebase. You cannot modify " +
			"files or run commands; report findings with file paths and line references.",
		BuiltIn: true,
	},
}

// AgentRegistry resolves agent definitions by name: the built-ins plus any
// project-local definitions loaded from .overture/agents/*.toml under the
// project path. Project definitions shadowing a built-in name are skipped.
type AgentRegistry struct {
	agents map[string]AgentDefinition
	order  []string
	logger *slog.Logger
}

// AgentRegistryOption configures registry construction.
type AgentRegistryOption func(*AgentRegistry)

// WithAgentLogger sets the logger used for load-time diagnostics.
func WithAgentLogger(l *slog.Logger) AgentRegistryOption {
	return func(r *AgentRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewAgentRegistry builds a registry for one project. A missing or unreadable
// agents directory is not an error; the built-ins always load.
func NewAgentRegistry(projectPath string, opts ...AgentRegistryOption) *AgentRegistry {
	r := &AgentRegistry{
		agents: make(map[string]AgentDefinition, len(builtinAgents)),
		logger: nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	for _, a := range builtinAgents {
		r.agents[a.Name] = a
		r.order = append(r.order, a.Name)
	}
	if projectPath != "" {
		r.loadProjectAgents(filepath.Join(projectPath, ".overture", "agents"))
	}
	return r
}

func (r *AgentRegistry) loadProjectAgents(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := loadAgentFile(path)
		if err != nil {
			r.logger.Warn("skipping agent definition", "path", path, "error", err)
			continue
		}
		if _, reserved := r.agents[def.Name]; reserved && r.agents[def.Name].BuiltIn {
			r.logger.Warn("agent name is reserved, skipping", "name", def.Name, "path", path)
			continue
		}
		if _, dup := r.agents[def.Name]; !dup {
			r.order = append(r.order, def.Name)
		}
		r.agents[def.Name] = def
	}
}

func loadAgentFile(path string) (AgentDefinition, error) {
	var def AgentDefinition
	if _, err := toml.DecodeFile(path, &def); err != nil {
		return def, fmt.Errorf("agents: parse %s: %w", filepath.Base(path), err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), ".toml")
	}
	if def.Mode == "" {
		def.Mode = ModeAll
	}
	switch def.Mode {
	case ModePrimary, ModeSubagent, ModeAll:
	default:
		return def, fmt.Errorf("agents: %s: invalid mode %q", def.Name, def.Mode)
	}
	return def, nil
}

// Resolve returns the definition for name, or ErrAgentNotFound.
func (r *AgentRegistry) Resolve(name string) (AgentDefinition, error) {
	if name == "" {
		name = "default"
	}
	def, ok := r.agents[name]
	if !ok {
		return AgentDefinition{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return def, nil
}

// List returns all visible definitions in load order. Hidden agents are
// included only when includeHidden is set.
func (r *AgentRegistry) List(includeHidden bool) []AgentDefinition {
	out := make([]AgentDefinition, 0, len(r.order))
	for _, name := range r.order {
		def := r.agents[name]
		if def.Hidden && !includeHidden {
			continue
		}
		out = append(out, def)
	}
	return out
}

// SubagentTypes returns the names usable as task tool targets, sorted.
func (r *AgentRegistry) SubagentTypes() []string {
	var out []string
	for name, def := range r.agents {
		if def.Mode.UsableAsSubagent() && !def.Hidden {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
