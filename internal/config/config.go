package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/law1om/analytics-platform/internal/domain"
)

const FileName = "analytics.yml"

// Config models analytics.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Console struct {
		Addr         string `yaml:"addr"`
		APIURL       string `yaml:"api_url"`
		FetchTimeout string `yaml:"fetch_timeout"`
		Sessions     int    `yaml:"sessions"`
	} `yaml:"console"`
	Auth struct {
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Seed Seed `yaml:"seed"`
}

type Seed struct {
	Divisions []SeedDivision `yaml:"divisions"`
	Users     []SeedUser     `yaml:"users"`
}

type SeedDivision struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Blocks      []string `yaml:"blocks"`
}

type SeedUser struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Division string `yaml:"division"`
	Block    string `yaml:"block"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with bankctl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Console.Addr == "" {
		return fmt.Errorf("config.console.addr is required")
	}
	if c.Console.APIURL == "" {
		return fmt.Errorf("config.console.api_url is required")
	}
	if c.Console.Sessions < 0 {
		return fmt.Errorf("config.console.sessions must not be negative")
	}
	if _, err := parseDuration("console.fetch_timeout", c.Console.FetchTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("auth.token_ttl", c.Auth.TokenTTL); err != nil {
		return err
	}
	return c.Seed.Validate()
}

// Validate checks that seed users reference seeded divisions and blocks.
func (s Seed) Validate() error {
	blocks := map[string]map[string]bool{}
	for _, d := range s.Divisions {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("seed division with empty name")
		}
		if _, dup := blocks[d.Name]; dup {
			return fmt.Errorf("seed division %s defined twice", d.Name)
		}
		set := map[string]bool{}
		for _, b := range d.Blocks {
			if strings.TrimSpace(b) == "" {
				return fmt.Errorf("seed division %s has empty block name", d.Name)
			}
			if set[b] {
				return fmt.Errorf("seed division %s lists block %s twice", d.Name, b)
			}
			set[b] = true
		}
		blocks[d.Name] = set
	}
	emails := map[string]bool{}
	for _, u := range s.Users {
		if u.Email == "" {
			return fmt.Errorf("seed user %q has no email", u.Name)
		}
		if emails[u.Email] {
			return fmt.Errorf("seed user %s defined twice", u.Email)
		}
		emails[u.Email] = true
		if u.Password == "" {
			return fmt.Errorf("seed user %s has no password", u.Email)
		}
		if _, err := domain.ParseRole(u.Role); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		if u.Division == "" {
			if u.Block != "" {
				return fmt.Errorf("seed user %s has a block but no division", u.Email)
			}
			continue
		}
		set, ok := blocks[u.Division]
		if !ok {
			return fmt.Errorf("seed user %s references unknown division %s", u.Email, u.Division)
		}
		if u.Block != "" && !set[u.Block] {
			return fmt.Errorf("seed user %s references unknown block %s", u.Email, u.Block)
		}
	}
	return nil
}

// FetchTimeout returns the console fetch timeout; zero means none.
func (c *Config) FetchTimeout() time.Duration {
	d, _ := parseDuration("", c.Console.FetchTimeout)
	return d
}

// TokenTTL returns the lifetime of issued tokens, defaulting to 24h.
func (c *Config) TokenTTL() time.Duration {
	d, _ := parseDuration("", c.Auth.TokenTTL)
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.%s must not be negative", field)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

console:
  addr: 127.0.0.1:8090
  api_url: http://127.0.0.1:8080/api
  fetch_timeout: 10s
  sessions: 256

auth:
  issuer: bankctl
  token_ttl: 24h

seed:
  divisions:
    - name: Головной офис
      description: Центральный аппарат банка
      blocks:
        - Административный отдел
        - Департамент стратегического планирования
        - Финансовый департамент

  users:
    - name: Administrator
      email: admin@bank.com
      password: admin123
      role: ADMIN
      division: Головной офис
      block: Административный отдел
    - name: Рамиль
      email: ramil@bank.com
      password: "123123"
      role: EMPLOYEE
      division: Головной офис
      block: Департамент стратегического планирования
`
