package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/tracing"
)

type Config struct {
	Evidence struct {
		Dir   string         `yaml:"dir"`
		Root  string         `yaml:"root"` // API requests may only name dirs under it; defaults to dir
		Files evidence.Files `yaml:"files"`
	} `yaml:"evidence"`
	VMAddress  string            `yaml:"vmAddress"`
	Whitelist  []string          `yaml:"whitelist"`
	RulesFile  string            `yaml:"rulesFile"`  // empty = built-in baseline
	RuleVars   map[string]string `yaml:"ruleVars"`   // overrides tmp_cmds, diff_cmd...
	ResolvConf string            `yaml:"resolvConf"` // ex: /etc/resolv.conf
	Parallel   bool              `yaml:"parallel"`
	Color      *bool             `yaml:"color"`
	Filesystem struct {
		Ignore []string `yaml:"ignore"`
	} `yaml:"filesystem"`
	Storage struct {
		Path string `yaml:"path"` // empty disables the archive
	} `yaml:"storage"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`
	Jobs      []Job  `yaml:"jobs"`
	AuthToken string `yaml:"authToken"` // plain or bcrypt hash
	Slack     struct {
		Enabled bool   `yaml:"enabled"`
		Webhook string `yaml:"webhook"`
	} `yaml:"slack"`
	Tracing tracing.Config `yaml:"tracing"`
}

// Job is a scheduled inspection run by `serve`. Empty fields inherit the
// top-level evidence dir, VM address and whitelist.
type Job struct {
	Name      string   `yaml:"name"`
	Schedule  string   `yaml:"schedule"` // cron spec or @every 1h
	Dir       string   `yaml:"dir"`
	VMAddress string   `yaml:"vmAddress"`
	Whitelist []string `yaml:"whitelist"`
}

// Load reads path; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", evidence.ErrMalformedConfig, path, err)
		}
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Evidence.Files = c.Evidence.Files.WithDefaults()
	if c.ResolvConf == "" {
		c.ResolvConf = "/etc/resolv.conf"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Color == nil {
		t := true
		c.Color = &t
	}
}
