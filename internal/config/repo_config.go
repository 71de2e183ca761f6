package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/ci-script/internal/core"
)

// RepoConfigFile is looked up at the root of every checkout.
const RepoConfigFile = ".ci-script.yml"

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParsing  = errors.New("config parsing failed")
)

// LoadRepoConfig loads and parses the .ci-script.yml file from a repository path.
// A missing file yields the defaults together with ErrConfigNotFound.
func LoadRepoConfig(repoPath string) (*core.RepoConfig, error) {
	configPath := filepath.Join(repoPath, RepoConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return core.DefaultRepoConfig(), ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", RepoConfigFile, err)
	}

	config := core.DefaultRepoConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", ErrConfigParsing)
	}
	return config, nil
}

// ScriptSettings is the effective budget and identity for one execution.
type ScriptSettings struct {
	Timeout       time.Duration
	MaxOperations int
	Tools         []string
	Env           map[string]string
	Committer     core.Committer
}

// Effective merges the worker's limits with a repository's configuration.
// A repository can shorten the timeout and narrow the tool list but never
// extend either.
func (s ScriptConfig) Effective(repo *core.RepoConfig) ScriptSettings {
	out := ScriptSettings{
		Timeout:       s.Timeout,
		MaxOperations: s.MaxOperations,
		Tools:         slices.Clone(s.AllowedTools),
		Env:           make(map[string]string, len(s.EnvPassthrough)),
		Committer:     core.Committer{Name: s.CommitterName, Email: s.CommitterEmail},
	}
	for _, name := range s.EnvPassthrough {
		if v, ok := os.LookupEnv(name); ok {
			out.Env[name] = v
		}
	}
	if repo == nil {
		return out
	}

	if repo.Timeout > 0 && (out.Timeout <= 0 || repo.Timeout < out.Timeout) {
		out.Timeout = repo.Timeout
	}
	if len(repo.Tools) > 0 {
		var narrowed []string
		for _, tool := range repo.Tools {
			if slices.Contains(s.AllowedTools, tool) {
				narrowed = append(narrowed, tool)
			}
		}
		out.Tools = narrowed
	}
	if repo.Committer.Name != "" {
		out.Committer.Name = repo.Committer.Name
	}
	if repo.Committer.Email != "" {
		out.Committer.Email = repo.Committer.Email
	}
	return out
}
