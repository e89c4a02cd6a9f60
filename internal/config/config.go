package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/y0f/lexotp/internal/totp"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	TOTP    TOTPConfig    `yaml:"totp"`
	Import  ImportConfig  `yaml:"import"`
	Stream  StreamConfig  `yaml:"stream"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`

	trustedNets []net.IPNet
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	MaxConns        int           `yaml:"max_conns"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	FrameAncestors  []string      `yaml:"frame_ancestors"`
	BasePath        string        `yaml:"base_path"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

// TOTPConfig holds the defaults applied when a request leaves a
// parameter out.
type TOTPConfig struct {
	Issuer     string `yaml:"issuer"`
	Digits     int    `yaml:"digits"`
	Period     int    `yaml:"period"`
	Algorithm  string `yaml:"algorithm"`
	Skew       int    `yaml:"skew"`
	SecretSize int    `yaml:"secret_size"`
}

type ImportConfig struct {
	MaxURLLength    int `yaml:"max_url_length"`
	MaxAccounts     int `yaml:"max_accounts"`
	ExportBatchSize int `yaml:"export_batch_size"`
}

type StreamConfig struct {
	Tick        time.Duration `yaml:"tick"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8091",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxBodySize:     256 << 10, // 256KB
			MaxConns:        256,
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		TOTP: TOTPConfig{
			Issuer:     "lexotp",
			Digits:     totp.DefaultDigits,
			Period:     totp.DefaultPeriod,
			Algorithm:  string(totp.SHA1),
			Skew:       1,
			SecretSize: totp.DefaultSecretSize,
		},
		Import: ImportConfig{
			MaxURLLength:    64 << 10,
			MaxAccounts:     500,
			ExportBatchSize: 10,
		},
		Stream: StreamConfig{
			Tick:        time.Second,
			MaxDuration: 15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefaults is Load, except that a missing file yields the defaults.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Defaults()
		return cfg, cfg.finish()
	}
	return cfg, err
}

func (c *Config) finish() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	c.Server.BasePath = NormalizeBasePath(c.Server.BasePath)

	nets, err := parseTrustedProxies(c.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted_proxies: %w", err)
	}
	c.trustedNets = nets
	return nil
}

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateTOTP(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateStream(); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative")
	}
	if c.Server.RateLimitPerSec <= 0 {
		return fmt.Errorf("server.rate_limit_per_sec must be positive")
	}
	if c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if bp := c.Server.BasePath; bp != "" {
		if strings.Contains(bp, "..") || strings.Contains(bp, "?") || strings.Contains(bp, "#") || strings.Contains(bp, "\\") {
			return fmt.Errorf("server.base_path contains invalid characters")
		}
	}
	return nil
}

func (c *Config) validateTOTP() error {
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return fmt.Errorf("totp.digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return fmt.Errorf("totp.period must be positive")
	}
	if _, err := totp.ParseAlgorithm(c.TOTP.Algorithm); err != nil {
		return fmt.Errorf("totp.algorithm: %w", err)
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 10 {
		return fmt.Errorf("totp.skew must be between 0 and 10")
	}
	if c.TOTP.SecretSize < 10 || c.TOTP.SecretSize > 128 {
		return fmt.Errorf("totp.secret_size must be between 10 and 128 bytes")
	}
	return nil
}

func (c *Config) validateImport() error {
	if c.Import.MaxURLLength <= 0 {
		return fmt.Errorf("import.max_url_length must be positive")
	}
	if c.Import.MaxAccounts < 0 {
		return fmt.Errorf("import.max_accounts must not be negative")
	}
	if c.Import.ExportBatchSize < 1 || c.Import.ExportBatchSize > 50 {
		return fmt.Errorf("import.export_batch_size must be between 1 and 50")
	}
	return nil
}

func (c *Config) validateStream() error {
	if c.Stream.Tick < 100*time.Millisecond {
		return fmt.Errorf("stream.tick must be at least 100ms")
	}
	if c.Stream.MaxDuration < c.Stream.Tick {
		return fmt.Errorf("stream.max_duration must not be shorter than stream.tick")
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

// Params returns the configured generation defaults.
func (c *Config) Params() totp.Params {
	alg, _ := totp.ParseAlgorithm(c.TOTP.Algorithm)
	return totp.Params{Digits: c.TOTP.Digits, Period: c.TOTP.Period, Algorithm: alg}
}

func NormalizeBasePath(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return ""
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return strings.TrimRight(s, "/")
}

func (c *Config) IsTrustedProxy(ip net.IP) bool {
	for i := range c.trustedNets {
		if c.trustedNets[i].Contains(ip) {
			return true
		}
	}
	return false
}

func (c *Config) TrustedNets() []net.IPNet {
	return c.trustedNets
}

func parseTrustedProxies(proxies []string) ([]net.IPNet, error) {
	var nets []net.IPNet
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP: %s", p)
			}
			if ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR: %s", p)
		}
		nets = append(nets, *ipNet)
	}
	return nets, nil
}
