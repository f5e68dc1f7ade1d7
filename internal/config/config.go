// Package config loads the connection descriptor used to open a networked
// (PostgreSQL) case, per §6.2. It follows the same plain-struct,
// yaml.v3-tagged, env-override idiom used throughout the rest of this
// module's ambient stack.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sk8/skcd/internal/storage"
)

// CaseConfig is the subset of case.yaml fields needed to open a case: which
// backend to use, and (for the networked backend) the connection
// descriptor.
type CaseConfig struct {
	Backend  string `yaml:"backend"` // "embedded" or "networked"
	Path     string `yaml:"path"`    // embedded: sqlite file path
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSL      bool   `yaml:"ssl"`
	SSLVerify bool  `yaml:"ssl-verify"`
}

// LoadCaseConfig reads and parses case.yaml from caseDir. Returns an empty
// CaseConfig (not nil) if the file does not exist or cannot be parsed, same
// as the teacher's local-config loader.
func LoadCaseConfig(caseDir string) *CaseConfig {
	data, err := os.ReadFile(filepath.Join(caseDir, "case.yaml")) // #nosec G304 - caller-controlled case directory
	if err != nil {
		return &CaseConfig{}
	}
	var cfg CaseConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &CaseConfig{}
	}
	return &cfg
}

// LoadCaseConfigWithEnv applies environment-variable overrides on top of the
// file, mirroring BEADS_SYNC_BRANCH's precedence rule in the teacher.
//
// Supported overrides: SKCD_PG_HOST, SKCD_PG_PORT, SKCD_PG_USER,
// SKCD_PG_PASSWORD, SKCD_PG_DATABASE, SKCD_PG_SSLMODE ("require"/"disable").
func LoadCaseConfigWithEnv(caseDir string) *CaseConfig {
	cfg := LoadCaseConfig(caseDir)
	if v := os.Getenv("SKCD_PG_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SKCD_PG_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SKCD_PG_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("SKCD_PG_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("SKCD_PG_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("SKCD_PG_SSLMODE"); v != "" {
		cfg.SSL = v != "disable"
	}
	return cfg
}

// ConnDescriptor converts the loaded config into storage.ConnDescriptor.
func (c *CaseConfig) ConnDescriptor() storage.ConnDescriptor {
	return storage.ConnDescriptor{
		Host:      c.Host,
		Port:      c.Port,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		SSL:       c.SSL,
		SSLVerify: c.SSLVerify,
	}
}

// IsNetworked reports whether this config selects the networked backend.
func (c *CaseConfig) IsNetworked() bool { return c.Backend == "networked" }
