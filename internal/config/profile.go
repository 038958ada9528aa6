package config

import (
	"fmt"

	"github.com/gobwas/glob"
)

// ProfileConfig is the request-option profile as it appears in
// ".context/config.yml": per-project defaults for context-pack assembly
// plus glob patterns for paths search results must never surface.
type ProfileConfig struct {
	PreferCode  bool     `yaml:"prefer_code" mapstructure:"prefer_code"`
	IncludeDocs bool     `yaml:"include_docs" mapstructure:"include_docs"`
	RelatedMode string   `yaml:"related_mode" mapstructure:"related_mode"` // auto, explore, focus
	Strategy    string   `yaml:"strategy" mapstructure:"strategy"`         // direct, extended, deep
	Reject      []string `yaml:"reject" mapstructure:"reject"`             // glob patterns over relative paths
}

// Profile is the compiled runtime form of ProfileConfig, threaded
// through search and pack assembly. The zero value accepts every path
// and applies no defaults.
type Profile struct {
	PreferCode  bool
	IncludeDocs bool
	RelatedMode string
	Strategy    string

	rejects []glob.Glob
}

// Compile validates the profile's enum fields and compiles its reject
// patterns.
func (pc ProfileConfig) Compile() (*Profile, error) {
	switch pc.RelatedMode {
	case "", "auto", "explore", "focus":
	default:
		return nil, fmt.Errorf("config: related_mode must be auto, explore, or focus, got %q", pc.RelatedMode)
	}
	switch pc.Strategy {
	case "", "direct", "extended", "deep":
	default:
		return nil, fmt.Errorf("config: strategy must be direct, extended, or deep, got %q", pc.Strategy)
	}

	p := &Profile{
		PreferCode:  pc.PreferCode,
		IncludeDocs: pc.IncludeDocs,
		RelatedMode: pc.RelatedMode,
		Strategy:    pc.Strategy,
	}
	for _, pattern := range pc.Reject {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("config: invalid reject pattern %q: %w", pattern, err)
		}
		p.rejects = append(p.rejects, g)
	}
	return p, nil
}

// RejectsPath reports whether path matches any of the profile's reject
// patterns.
func (p *Profile) RejectsPath(path string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.rejects {
		if g.Match(path) {
			return true
		}
	}
	return false
}
