package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/tool/builtin"
)

// FallbackAgentName is the agent used when no agent files are configured.
const FallbackAgentName = "exodus"

// AgentConfig is the [agent] table of an agent file.
//
//	[agent]
//	name = "coder"
//	description = "Writes and runs code"
//	system_prompt = "You are {{.Agent.Name}}."
//	tools = ["core_bash"]
//	handoffs = ["reviewer"]
//	max_iterations = 8
//
//	[agent.llm]
//	model = "gpt-4o"
type AgentConfig struct {
	Name          string    `toml:"name" yaml:"name"`
	Description   string    `toml:"description" yaml:"description"`
	SystemPrompt  string    `toml:"system_prompt" yaml:"system_prompt"`
	Tools         []string  `toml:"tools" yaml:"tools"`
	Handoffs      []string  `toml:"handoffs" yaml:"handoffs"`
	MaxIterations int       `toml:"max_iterations" yaml:"max_iterations"`
	LLM           LLMConfig `toml:"llm" yaml:"llm"`
}

type agentFile struct {
	Agent AgentConfig `toml:"agent" yaml:"agent"`
}

// Agent is a loaded agent: its runtime definition plus the resolved model
// settings.
type Agent struct {
	Definition core.AgentDefinition
	LLM        LLMConfig
	// Source is the file the agent was loaded from; empty for built-ins.
	Source string
}

// Validate checks the definition and its model settings.
func (a Agent) Validate() error {
	if err := a.Definition.Validate(); err != nil {
		return err
	}
	if err := a.LLM.validate(); err != nil {
		return fmt.Errorf("agent %q: %w", a.Definition.Name, err)
	}
	return nil
}

func (c AgentConfig) resolve(defaults LLMConfig, source string) Agent {
	llm := c.LLM.Merge(defaults)
	return Agent{
		Definition: core.AgentDefinition{
			Name:        c.Name,
			Description: strings.TrimSpace(c.Description),
			Directive:   strings.TrimSpace(c.SystemPrompt),
			Tools:       append([]string(nil), c.Tools...),
			Handoffs:    append([]string(nil), c.Handoffs...),
			LLM: core.LLMParams{
				Model:         llm.Model,
				Temperature:   llm.Temperature,
				MaxTokens:     llm.MaxTokens,
				MaxIterations: c.MaxIterations,
			},
		},
		LLM:    llm,
		Source: source,
	}
}

// LoadAgentFile reads one agent from a .toml, .yaml or .yml file. Model
// settings left out of the file are inherited from defaults. A missing name
// is taken from the file name.
func LoadAgentFile(path string, defaults LLMConfig) (Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Agent{}, fmt.Errorf("load agent %s: %w", path, err)
	}

	var f agentFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return Agent{}, fmt.Errorf("load agent %s: %w", path, err)
		}
		if !meta.IsDefined("agent") {
			return Agent{}, fmt.Errorf("load agent %s: missing [agent] table", path)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return Agent{}, fmt.Errorf("load agent %s: %w", path, err)
		}
	default:
		return Agent{}, fmt.Errorf("load agent %s: unsupported file type", path)
	}

	if f.Agent.Name == "" {
		f.Agent.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	a := f.Agent.resolve(defaults, path)
	if err := a.Validate(); err != nil {
		return Agent{}, fmt.Errorf("load agent %s: %w", path, err)
	}
	return a, nil
}

// LoadAgents loads every agent file in dir, in file name order. When two
// files define the same agent the later one wins and a warning is logged.
// A missing directory yields no agents.
func LoadAgents(dir string, defaults LLMConfig, logger logging.Logger) ([]Agent, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load agents: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".toml", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var (
		agents []Agent
		index  = map[string]int{}
	)
	for _, path := range files {
		a, err := LoadAgentFile(path, defaults)
		if err != nil {
			return nil, err
		}
		if i, dup := index[a.Definition.Name]; dup {
			logger.Warn("config.agent.overwrite", "agent", a.Definition.Name, "previous", agents[i].Source, "source", path)
			agents[i] = a
			continue
		}
		index[a.Definition.Name] = len(agents)
		agents = append(agents, a)
	}
	return agents, nil
}

// FallbackAgent is a general purpose agent with the shell and file tools,
// used when nothing else is configured.
func FallbackAgent(defaults LLMConfig) Agent {
	return AgentConfig{
		Name:         FallbackAgentName,
		Description:  "General purpose assistant that can run shell commands and read files.",
		SystemPrompt: "You are {{.Agent.Name}}, a helpful AI assistant. Use the available tools when they help answer the user.",
		Tools:        []string{builtin.Bash, builtin.ReadFile},
	}.resolve(defaults, "")
}
