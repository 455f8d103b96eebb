// Package conf follows the teacher's conf.go split of LoadFromFile /
// setDefaults / validate per sub-struct (github.com/goccy/go-yaml for the
// process-level settings), plus a dedicated CSV loader for the resource
// table (spec §6).
package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Log mirrors the teacher's Log sub-struct: a minimal level knob, since
// transport/format are out of scope (spec §1).
type Log struct {
	Level string `yaml:"level"`
}

func (l *Log) setDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

func (l *Log) validate() []error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return []error{fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", l.Level)}
	}
}

// TLS mirrors spec §6's --appSSL/--serverSSL pair: whether the Stream is
// wrapped in TLS, and whether certificate verification is skipped.
type TLS struct {
	Enabled  bool `yaml:"enabled"`
	Insecure bool `yaml:"insecure"`
}

// HostConf is the Host's process-level configuration (spec §6 CLI table).
type HostConf struct {
	Log          Log    `yaml:"log"`
	TCPPort      int    `yaml:"tcpPort"`
	HTTPPort     int    `yaml:"httpPort"`
	WebPort      int    `yaml:"webPort"` // 0 disables the authorization endpoint
	ResourcesCSV string `yaml:"resourcesCSV"`
	TLS          TLS    `yaml:"tls"`
}

func LoadHostFromFile(path string) (*HostConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c HostConf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &c, err
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return &c, err
	}
	return &c, nil
}

// Finalize applies defaults and validates a HostConf built directly from
// CLI flags (as opposed to LoadHostFromFile, which does the same after
// unmarshaling YAML).
func (c *HostConf) Finalize() error {
	c.setDefaults()
	return c.validate()
}

func (c *HostConf) setDefaults() {
	c.Log.setDefaults()
	if c.TCPPort == 0 {
		c.TCPPort = envOrDefault("TCP_SERVER_PORT", 9000)
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = envOrDefault("HTTP_SERVER_PORT", 8000)
	}
	if c.WebPort == 0 {
		c.WebPort = envOrDefault("DTL_AUTH_PORT", 0)
	}
	if c.ResourcesCSV == "" {
		c.ResourcesCSV = "resources.csv"
	}
}

func (c *HostConf) validate() error {
	var allErrors []error
	allErrors = append(allErrors, c.Log.validate()...)
	if c.TCPPort == c.HTTPPort {
		allErrors = append(allErrors, fmt.Errorf("tcpPort and httpPort must differ, both are %d", c.TCPPort))
	}
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		allErrors = append(allErrors, fmt.Errorf("tcpPort out of range: %d", c.TCPPort))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		allErrors = append(allErrors, fmt.Errorf("httpPort out of range: %d", c.HTTPPort))
	}
	return writeErr(allErrors)
}

// ClientConf is the Client's process-level configuration (spec §6 CLI
// table for the Client).
type ClientConf struct {
	Log Log `yaml:"log"`

	AppType string `yaml:"appType"` // tcp|http|udp
	AppHost string `yaml:"appHost"`
	AppPort int    `yaml:"appPort"`
	AppSSL  TLS    `yaml:"appSSL"`
	AppAuth string `yaml:"appAuth"`

	ServerHost   string `yaml:"serverHost"`
	ServerTarget string `yaml:"serverTarget"` // the resource connector (port or hostname)
	ServerAuth   string `yaml:"serverAuth"`   // the shared secret
	ServerSSL    TLS    `yaml:"serverSSL"`
	BridgePort   int    `yaml:"bridgePort"`

	Pools int `yaml:"pools"`
}

func LoadClientFromFile(path string) (*ClientConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c ClientConf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &c, err
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return &c, err
	}
	return &c, nil
}

// Finalize applies defaults and validates a ClientConf built directly
// from CLI flags.
func (c *ClientConf) Finalize() error {
	c.setDefaults()
	return c.validate()
}

func (c *ClientConf) setDefaults() {
	c.Log.setDefaults()
	if c.BridgePort == 0 {
		c.BridgePort = 9000
	}
	if c.Pools == 0 {
		c.Pools = 1
	}
}

func (c *ClientConf) validate() error {
	var allErrors []error
	allErrors = append(allErrors, c.Log.validate()...)
	switch c.AppType {
	case "tcp", "http", "udp":
	default:
		allErrors = append(allErrors, fmt.Errorf("appType must be tcp/http/udp, got %q", c.AppType))
	}
	if c.ServerHost == "" {
		allErrors = append(allErrors, fmt.Errorf("serverHost is required"))
	}
	if c.ServerTarget == "" {
		allErrors = append(allErrors, fmt.Errorf("serverTarget is required"))
	}
	if c.AppType == "udp" && c.Pools < 1 {
		allErrors = append(allErrors, fmt.Errorf("pools must be >= 1 for udp"))
	}
	return writeErr(allErrors)
}

func writeErr(allErrors []error) error {
	if len(allErrors) > 0 {
		var messages []string
		for _, err := range allErrors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

func envOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
