// Package config loads the optional project-default file described in
// SPEC_FULL.md §4.12: a bsa.toml that pre-sets the assembler defaults the
// CLI flags would otherwise have to repeat on every invocation.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the project defaults read from bsa.toml; Defines is the
// `-D name=value` predefine table as a plain TOML map.
type Config struct {
	CPU            string           `toml:"cpu"`
	BasePage       int64            `toml:"base_page"`
	FillByte       int64            `toml:"fill_byte"`
	BranchOptimize bool             `toml:"branch_optimize"`
	CaseSensitive  bool             `toml:"case_sensitive"`
	Defines        map[string]int64 `toml:"defines"`
}

// Default returns the zero-value configuration: CPU left empty (the variant
// then follows the source extension: 6502, or 45GS02 for .src), no base
// page offset, fill byte 0, branch optimization off.
func Default() Config {
	return Config{Defines: map[string]int64{}}
}

// Load reads and parses path, falling back to Default() if path does not
// exist at all (a missing bsa.toml is not an error -- it just means "use
// the built-in defaults").
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Defines == nil {
		cfg.Defines = map[string]int64{}
	}
	return cfg, nil
}
