// Package config loads the autofiler configuration file.
//
// The file is YAML by default; a ".toml" extension selects TOML. Rule and
// action descriptions are kept as generic nested mappings (Description) so
// that the rules and actions packages can interpret them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no configuration file is given on the command line.
const DefaultPath = "~/.imapautofiler.yml"

// ErrInvalid wraps every validation failure returned by Load and Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole configuration file.
type Config struct {
	Server       *Server   `yaml:"server" toml:"server"`
	Maildir      string    `yaml:"maildir" toml:"maildir"`
	TrashMailbox string    `yaml:"trash-mailbox" toml:"trash-mailbox"`
	Mailboxes    []Mailbox `yaml:"mailboxes" toml:"mailboxes"`
}

// Server holds the IMAP connection parameters.
type Server struct {
	Hostname      string   `yaml:"hostname" toml:"hostname"`
	Port          int      `yaml:"port" toml:"port"`
	Username      string   `yaml:"username" toml:"username"`
	Password      string   `yaml:"password" toml:"password"`
	PasswordCmd   string   `yaml:"password-cmd" toml:"password-cmd"`
	PasswordEnv   string   `yaml:"password-env" toml:"password-env"`
	UseKeyring    Bool     `yaml:"use_keyring" toml:"use_keyring"`
	CAFile        string   `yaml:"ca_file" toml:"ca_file"`
	CheckHostname any      `yaml:"check_hostname" toml:"check_hostname"`
	Security      string   `yaml:"security" toml:"security"` // tls, starttls or none
	Auth          string   `yaml:"auth" toml:"auth"`         // login or plain
	Search        []string `yaml:"search" toml:"search"`
}

// Security modes for Server.Security.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Mailbox is one mailbox to process and the rules applied to it, in order.
type Mailbox struct {
	Name  string        `yaml:"name" toml:"name"`
	Rules []Description `yaml:"rules" toml:"rules"`
}

// VerifyHostname reports whether the server certificate hostname must be
// checked. It defaults to true.
func (s *Server) VerifyHostname() bool {
	if s.CheckHostname == nil {
		return true
	}
	return ToBool(s.CheckHostname)
}

// SecurityMode returns the normalised security mode, defaulting to TLS.
func (s *Server) SecurityMode() string {
	switch m := strings.ToLower(strings.TrimSpace(s.Security)); m {
	case "", "ssl", SecurityTLS:
		return SecurityTLS
	default:
		return m
	}
}

// Addr returns host:port, choosing the default port for the security mode.
func (s *Server) Addr() string {
	port := s.Port
	if port == 0 {
		port = 993
		if s.SecurityMode() != SecurityTLS {
			port = 143
		}
	}
	return fmt.Sprintf("%s:%d", s.Hostname, port)
}

// Load reads and validates the configuration file at path. A leading "~" is
// expanded to the user's home directory.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = ParseTOML(b)
	} else {
		cfg, err = ParseYAML(b)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseYAML decodes a YAML document. An empty document yields an empty
// configuration.
func ParseYAML(b []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// ParseTOML decodes a TOML document.
func ParseTOML(b []byte) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(string(b), cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	for i := range c.Mailboxes {
		for j, r := range c.Mailboxes[i].Rules {
			c.Mailboxes[i].Rules[j] = Normalize(r)
		}
	}
	if c.Maildir != "" {
		if p, err := homedir.Expand(c.Maildir); err == nil {
			c.Maildir = p
		}
	}
}

// Validate checks the parts of the configuration that do not depend on rule
// and action semantics. Rules and actions are validated when they are built.
func (c *Config) Validate() error {
	if c.Server == nil && c.Maildir == "" {
		return fmt.Errorf("%w: could not find connection information (server or maildir)", ErrInvalid)
	}
	if s := c.Server; s != nil {
		if s.Hostname == "" {
			return fmt.Errorf("%w: server.hostname is required", ErrInvalid)
		}
		if s.Username == "" {
			return fmt.Errorf("%w: server.username is required", ErrInvalid)
		}
		switch s.SecurityMode() {
		case SecurityTLS, SecurityStartTLS, SecurityNone:
		default:
			return fmt.Errorf("%w: unknown server.security %q", ErrInvalid, s.Security)
		}
		switch strings.ToLower(s.Auth) {
		case "", "login", "plain":
		default:
			return fmt.Errorf("%w: unknown server.auth %q", ErrInvalid, s.Auth)
		}
	}
	for i, mb := range c.Mailboxes {
		if mb.Name == "" {
			return fmt.Errorf("%w: mailboxes[%d] has no name", ErrInvalid, i)
		}
	}
	return nil
}
