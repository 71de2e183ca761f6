package core

import "time"

// Committer is the identity used for commits made by scripts.
type Committer struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// RepoConfig represents the structure of the .ci-script.yml file.
type RepoConfig struct {
	// Script deadline. Capped by the worker's configured maximum.
	Timeout time.Duration `yaml:"timeout"`

	// Tools scripts in this repository may invoke. Can only narrow the
	// worker's allow-list. Example: ["cargo", "gofmt"]
	Tools []string `yaml:"tools"`

	Committer Committer `yaml:"committer"`
}

// DefaultRepoConfig returns a config with default values.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		Tools: []string{},
	}
}
