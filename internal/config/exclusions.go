package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
)

// ConfigFilename is the file name searched for in the standard config locations
const ConfigFilename = "botsentry.yml"

// ExclusionRule represents a rule for excluding request paths from analysis
type ExclusionRule struct {
	Exact   string `mapstructure:"exact" yaml:"exact,omitempty"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Pattern string `mapstructure:"pattern" yaml:"pattern,omitempty"`
}

// PathExcluder handles path exclusion logic
type PathExcluder struct {
	rules          []ExclusionRule
	compiledRegexs []*regexp.Regexp
}

// NewPathExcluder compiles a set of exclusion rules
func NewPathExcluder(rules []ExclusionRule) (*PathExcluder, error) {
	// Validate that each rule has at least one matching criteria
	for i, rule := range rules {
		if rule.Exact == "" && rule.Prefix == "" && rule.Pattern == "" {
			return nil, fmt.Errorf("exclusion rule at index %d must specify at least one matching criteria", i)
		}
	}

	excluder := &PathExcluder{
		rules:          rules,
		compiledRegexs: make([]*regexp.Regexp, 0, len(rules)),
	}

	for _, rule := range rules {
		if rule.Pattern == "" {
			excluder.compiledRegexs = append(excluder.compiledRegexs, nil)
			continue
		}
		if strings.Contains(rule.Pattern, ".*.*") {
			slog.Warn("Regex pattern contains multiple .* which may cause performance issues", "pattern", rule.Pattern)
		}
		if strings.HasPrefix(rule.Pattern, ".*") && !strings.HasPrefix(rule.Pattern, "^") {
			slog.Warn("Regex pattern starts with .* without ^ anchor, consider using prefix match instead", "pattern", rule.Pattern)
		}

		regex, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile exclusion pattern '%s': %w", rule.Pattern, err)
		}
		excluder.compiledRegexs = append(excluder.compiledRegexs, regex)
	}

	return excluder, nil
}

// ShouldExclude checks if a normalized path should be dropped before analysis
func (pe *PathExcluder) ShouldExclude(path string) bool {
	if pe == nil {
		return false
	}
	for i, rule := range pe.rules {
		if rule.Exact != "" && rule.Exact == path {
			return true
		}
		if rule.Prefix != "" && strings.HasPrefix(path, rule.Prefix) {
			return true
		}
		if rule.Pattern != "" && pe.compiledRegexs[i] != nil && pe.compiledRegexs[i].MatchString(path) {
			return true
		}
	}
	return false
}

// Len returns the number of rules
func (pe *PathExcluder) Len() int {
	if pe == nil {
		return 0
	}
	return len(pe.rules)
}

// SearchPaths returns the config file locations in order of preference
func SearchPaths() []string {
	searchPaths := []string{}

	// 1. XDG_CONFIG_HOME/botsentry/botsentry.yml
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		searchPaths = append(searchPaths, filepath.Join(xdgConfig, "botsentry", ConfigFilename))
	}

	// 2. HOME/.config/botsentry/botsentry.yml
	// 3. HOME/.botsentry/botsentry.yml
	if home, err := homedir.Dir(); err == nil && home != "" {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "botsentry", ConfigFilename))
		searchPaths = append(searchPaths, filepath.Join(home, ".botsentry", ConfigFilename))
	}

	return searchPaths
}

// FindConfigPath searches for a configuration file in standard locations
// Returns the path and a boolean indicating whether the file was found
func FindConfigPath() (string, bool) {
	searchPaths := SearchPaths()
	slog.Debug("Searching for config file", "paths", searchPaths)

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			slog.Info("Found config file", "path", path)
			return path, true
		}
		slog.Debug("Config file not found", "path", path)
	}

	slog.Info("No config file found, using defaults")
	return "", false
}

// LoadWithSearch loads the given config file, or the first one found in the
// standard locations, or the defaults when none exists.
func LoadWithSearch(path string) (*Config, error) {
	if path == "" {
		if found, ok := FindConfigPath(); ok {
			path = found
		}
	}
	return Load(path)
}
