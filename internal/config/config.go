// Package config loads palskill's settings from a JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/events"
	"github.com/nidhogg/palskill/internal/retrieval"
	"github.com/nidhogg/palskill/internal/sandbox"
	"github.com/nidhogg/palskill/internal/skill"
	"github.com/nidhogg/palskill/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Skills    SkillsConfig     `json:"skills" yaml:"skills"`
	Database  DatabaseConfig   `json:"database" yaml:"database"`
	Embedding embedding.Config `json:"embedding" yaml:"embedding"`
	Events    EventsConfig     `json:"events" yaml:"events"`

	// Warnings lists settings that were adjusted while loading.
	Warnings []string `json:"-" yaml:"-"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// SkillsConfig controls the registry.
type SkillsConfig struct {
	Mode skill.Mode `json:"mode" yaml:"mode"`
	// FromDefault loads the persisted library on start. Unset means true.
	FromDefault *bool `json:"from_default" yaml:"from_default"`
	// LocalPath is the directory holding skill_lib.json / skill_lib_basic.json.
	LocalPath string `json:"local_path" yaml:"local_path"`
	// Backend is one of file, postgres or redis.
	Backend    string   `json:"backend" yaml:"backend"`
	MaxCount   int      `json:"max_count" yaml:"max_count"`
	Basic      []string `json:"basic" yaml:"basic"`
	Allow      []string `json:"allow" yaml:"allow"`
	Deny       []string `json:"deny" yaml:"deny"`
	// Candidates, when set, restricts the catalog after loading.
	Candidates       []string         `json:"candidates" yaml:"candidates"`
	Groups           retrieval.Groups `json:"groups" yaml:"groups"`
	ScriptsDir       string           `json:"scripts_dir" yaml:"scripts_dir"`
	PostActionWaitMS int              `json:"post_action_wait_ms" yaml:"post_action_wait_ms"`
	NopWaitMS        int              `json:"nop_wait_ms" yaml:"nop_wait_ms"`
	Sandbox          sandbox.Options  `json:"sandbox" yaml:"sandbox"`
}

// LoadLibrary reports whether the persisted library should be loaded.
func (s SkillsConfig) LoadLibrary() bool {
	return s.FromDefault == nil || *s.FromDefault
}

// PostActionWait is the pause after each executed action.
func (s SkillsConfig) PostActionWait() time.Duration {
	return time.Duration(s.PostActionWaitMS) * time.Millisecond
}

// NopWait is the pause when there is nothing to execute.
func (s SkillsConfig) NopWait() time.Duration {
	return time.Duration(s.NopWaitMS) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres PostgresConfig           `json:"postgres" yaml:"postgres"`
	Redis    RedisConfig              `json:"redis" yaml:"redis"`
	Qdrant   vectorstore.QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// EventsConfig enables publishing registry events to a Redis stream.
type EventsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Stream  string `json:"stream" yaml:"stream"`
}

// Backends accepted in skills.backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file, substitutes environment variable
// references and fills in defaults. The format is chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(resolved), &cfg)
	default:
		err = json.Unmarshal([]byte(resolved), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	s := &c.Skills
	switch s.Mode {
	case "":
		s.Mode = skill.ModeFull
	case skill.ModeFull, skill.ModeBasic:
	default:
		// Any other mode runs the full library, always loaded from disk.
		fromDefault := true
		s.FromDefault = &fromDefault
		c.Warnings = append(c.Warnings, fmt.Sprintf("unknown skills.mode %q, using the full library with from_default on", s.Mode))
	}
	if s.LocalPath == "" {
		s.LocalPath = "data"
	}
	if s.Backend == "" {
		s.Backend = BackendFile
	}
	if s.MaxCount == 0 {
		s.MaxCount = 20
	}
	if len(s.Basic) == 0 {
		s.Basic = []string{"speak", "move", "open_map", "close_map", "buy_item", "sell_item"}
	}
	if len(s.Groups.Movement) == 0 && len(s.Groups.Trade) == 0 && len(s.Groups.Map) == 0 {
		s.Groups = retrieval.Groups{
			Movement: []string{"move"},
			Trade:    []string{"buy_item", "sell_item"},
			Map:      []string{"open_map", "close_map"},
		}
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "api"
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "palskill_skills"
	}
	if c.Events.Stream == "" {
		c.Events.Stream = events.DefaultStream
	}
}

// Validate rejects settings the registry cannot start with.
func (c *Config) Validate() error {
	switch c.Skills.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("skills.backend %q needs database.postgres.dsn", c.Skills.Backend)
		}
	case BackendRedis:
		if c.Database.Redis.URL == "" {
			return fmt.Errorf("skills.backend %q needs database.redis.url", c.Skills.Backend)
		}
	default:
		return fmt.Errorf("unknown skills.backend %q", c.Skills.Backend)
	}
	if c.Events.Enabled && c.Database.Redis.URL == "" {
		return fmt.Errorf("events need database.redis.url")
	}
	return nil
}
