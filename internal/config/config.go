// Package config loads per-project indexing settings from
// "<root>/.context/config.yml", with CONTEXT_*-prefixed environment
// variable overrides. Scope is limited to the knobs the scanner,
// chunker, and pack assembly actually expose.
package config

// Config is a project's indexing configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Chunking ChunkingConfig `yaml:"chunking" mapstructure:"chunking"`
	Profile  ProfileConfig  `yaml:"profile" mapstructure:"profile"`
}

// PathsConfig defines which files to index and which to ignore, beyond
// .gitignore and the scanner's built-in exclusions.
type PathsConfig struct {
	Ignore []string `yaml:"ignore" mapstructure:"ignore"` // extra glob patterns to ignore
}

// ChunkingConfig bounds the default chunker's window sizes.
type ChunkingConfig struct {
	DocChunkSize  int `yaml:"doc_chunk_size" mapstructure:"doc_chunk_size"`   // max characters per markdown section
	CodeChunkSize int `yaml:"code_chunk_size" mapstructure:"code_chunk_size"` // max lines per source-code window
}

// Default returns a configuration with sensible defaults, matching
// chunker.New's own fallback sizes.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Ignore: []string{
				"node_modules/**",
				"vendor/**",
				"dist/**",
				"build/**",
				"target/**",
				"__pycache__/**",
			},
		},
		Chunking: ChunkingConfig{
			DocChunkSize:  800,
			CodeChunkSize: 200,
		},
		Profile: ProfileConfig{
			PreferCode:  true,
			IncludeDocs: true,
			RelatedMode: "explore",
			Strategy:    "extended",
		},
	}
}
