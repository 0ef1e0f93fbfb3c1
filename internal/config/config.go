package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration is returned when a threshold, weight or rule is out of its documented bounds
var ErrInvalidConfiguration = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment variables overriding configuration keys
const EnvPrefix = "BOTSENTRY"

// Config holds every tunable of the classification pipeline. A Config value is
// passed to each component at construction and never mutated by them.
type Config struct {
	Thresholds      Thresholds        `mapstructure:"thresholds" yaml:"thresholds"`
	Scoring         Scoring           `mapstructure:"scoring" yaml:"scoring"`
	Risk            RiskThresholds    `mapstructure:"risk" yaml:"risk"`
	DDoS            DDoSConfig        `mapstructure:"ddos" yaml:"ddos"`
	Signatures      []SignatureConfig `mapstructure:"signatures" yaml:"signatures"`
	SuspiciousPaths []string          `mapstructure:"suspicious_paths" yaml:"suspicious_paths"`
	ExcludedPaths   []ExclusionRule   `mapstructure:"excluded_paths" yaml:"excluded_paths"`
	Output          OutputConfig      `mapstructure:"output" yaml:"output"`
	GeoIPDatabase   string            `mapstructure:"geoip_database" yaml:"geoip_database"`
}

// Thresholds are the behavioral limits a single source is compared against
type Thresholds struct {
	RequestsPerMinute       float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour         float64 `mapstructure:"requests_per_hour" yaml:"requests_per_hour"`
	ErrorRateThreshold      float64 `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold"`
	BotConfidenceThreshold  float64 `mapstructure:"bot_confidence_threshold" yaml:"bot_confidence_threshold"`
	TimingRequestsPerMinute float64 `mapstructure:"timing_requests_per_minute" yaml:"timing_requests_per_minute"`
	TimingMaxResponseMs     float64 `mapstructure:"timing_max_response_ms" yaml:"timing_max_response_ms"`
	SinglePathMinRequests   int     `mapstructure:"single_path_min_requests" yaml:"single_path_min_requests"`
}

// Scoring holds the additive weight of each detection signal
type Scoring struct {
	RequestRate      float64 `mapstructure:"request_rate" yaml:"request_rate"`
	UserAgent        float64 `mapstructure:"user_agent" yaml:"user_agent"`
	MissingUserAgent float64 `mapstructure:"missing_user_agent" yaml:"missing_user_agent"`
	PathDiversity    float64 `mapstructure:"path_diversity" yaml:"path_diversity"`
	ErrorRate        float64 `mapstructure:"error_rate" yaml:"error_rate"`
	SuspiciousPaths  float64 `mapstructure:"suspicious_paths" yaml:"suspicious_paths"`
	Timing           float64 `mapstructure:"timing" yaml:"timing"`
}

// RiskThresholds are the boundaries of the risk level decision table
type RiskThresholds struct {
	CriticalConfidence         float64 `mapstructure:"critical_confidence" yaml:"critical_confidence"`
	CriticalSuspiciousRequests int     `mapstructure:"critical_suspicious_requests" yaml:"critical_suspicious_requests"`
	HighConfidence             float64 `mapstructure:"high_confidence" yaml:"high_confidence"`
	HighRequestsPerMinute      float64 `mapstructure:"high_requests_per_minute" yaml:"high_requests_per_minute"`
	MediumConfidence           float64 `mapstructure:"medium_confidence" yaml:"medium_confidence"`
	MediumRequestsPerMinute    float64 `mapstructure:"medium_requests_per_minute" yaml:"medium_requests_per_minute"`
}

// DDoSConfig configures the tumbling window scan
type DDoSConfig struct {
	WindowMinutes        int     `mapstructure:"window_minutes" yaml:"window_minutes"`
	MinRequestsThreshold int     `mapstructure:"min_requests_threshold" yaml:"min_requests_threshold"`
	MinIPDiversity       float64 `mapstructure:"min_ip_diversity" yaml:"min_ip_diversity"`
	MinErrorRate         float64 `mapstructure:"min_error_rate" yaml:"min_error_rate"`
	TopIPs               int     `mapstructure:"top_ips" yaml:"top_ips"`
}

// SignatureConfig describes a bot signature
type SignatureConfig struct {
	Name              string   `mapstructure:"name" yaml:"name"`
	UserAgentPatterns []string `mapstructure:"user_agent_patterns" yaml:"user_agent_patterns"`
	BehaviorPatterns  []string `mapstructure:"behavior_patterns" yaml:"behavior_patterns"`
	ConfidenceScore   float64  `mapstructure:"confidence_score" yaml:"confidence_score"`
	Description       string   `mapstructure:"description" yaml:"description"`
}

// OutputConfig bounds the lists included in an analysis result
type OutputConfig struct {
	MaxTopThreats    int `mapstructure:"max_top_threats" yaml:"max_top_threats"`
	MaxSampleEntries int `mapstructure:"max_sample_entries" yaml:"max_sample_entries"`
	MaxTopPaths      int `mapstructure:"max_top_paths" yaml:"max_top_paths"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			RequestsPerMinute:       10,
			RequestsPerHour:         300,
			ErrorRateThreshold:      0.3,
			BotConfidenceThreshold:  0.5,
			TimingRequestsPerMinute: 5,
			TimingMaxResponseMs:     100,
			SinglePathMinRequests:   10,
		},
		Scoring: Scoring{
			RequestRate:      0.3,
			UserAgent:        0.3,
			MissingUserAgent: 0.5,
			PathDiversity:    0.2,
			ErrorRate:        0.2,
			SuspiciousPaths:  0.4,
			Timing:           0.1,
		},
		Risk: RiskThresholds{
			CriticalConfidence:         0.9,
			CriticalSuspiciousRequests: 5,
			HighConfidence:             0.7,
			HighRequestsPerMinute:      20,
			MediumConfidence:           0.5,
			MediumRequestsPerMinute:    10,
		},
		DDoS: DDoSConfig{
			WindowMinutes:        5,
			MinRequestsThreshold: 1000,
			MinIPDiversity:       0.1,
			MinErrorRate:         0.5,
			TopIPs:               5,
		},
		Signatures:      DefaultSignatures(),
		SuspiciousPaths: DefaultSuspiciousPaths(),
		ExcludedPaths:   []ExclusionRule{},
		Output: OutputConfig{
			MaxTopThreats:    10,
			MaxSampleEntries: 5,
			MaxTopPaths:      10,
		},
	}
}

// DefaultSignatures returns the built-in bot signatures
func DefaultSignatures() []SignatureConfig {
	return []SignatureConfig{
		{
			Name:              "Curl Bot",
			UserAgentPatterns: []string{`curl/.*`},
			BehaviorPatterns:  []string{"high_frequency", "single_path", "tool_based"},
			ConfidenceScore:   0.9,
			Description:       "Command-line tool often used for automated requests",
		},
		{
			Name:              "Python Requests",
			UserAgentPatterns: []string{`python-requests/.*`},
			BehaviorPatterns:  []string{"high_frequency", "api_focused", "automated"},
			ConfidenceScore:   0.8,
			Description:       "Python HTTP library commonly used in scripts",
		},
		{
			Name:              "Wget Bot",
			UserAgentPatterns: []string{`Wget/.*`},
			BehaviorPatterns:  []string{"sequential_download", "high_frequency"},
			ConfidenceScore:   0.9,
			Description:       "Download tool often used for scraping",
		},
		{
			Name:              "HTTP Client Library",
			UserAgentPatterns: []string{`Go-http-client/.*`, `HTTPie/.*`, `axios/.*`},
			BehaviorPatterns:  []string{"api_focused", "automated"},
			ConfidenceScore:   0.8,
			Description:       "Programmatic HTTP clients without a browser",
		},
		{
			Name:              "Generic Bot",
			UserAgentPatterns: []string{`.*bot.*`, `.*crawler.*`, `.*spider.*`, `.*scraper.*`},
			BehaviorPatterns:  []string{"systematic_crawling"},
			ConfidenceScore:   0.7,
			Description:       "Generic bot patterns in user agent",
		},
		{
			Name:              "Headless Browser",
			UserAgentPatterns: []string{`HeadlessChrome.*`, `PhantomJS.*`},
			BehaviorPatterns:  []string{"automated_browsing"},
			ConfidenceScore:   0.6,
			Description:       "Headless browser automation",
		},
		{
			Name:              "Security Scanner",
			UserAgentPatterns: []string{`.*scan.*`, `.*vuln.*`, `.*security.*`},
			BehaviorPatterns:  []string{"vulnerability_scanning", "path_enumeration"},
			ConfidenceScore:   0.95,
			Description:       "Security scanning tools",
		},
	}
}

// DefaultSuspiciousPaths returns the built-in list of sensitive path fragments.
// Entries are lower case because request paths are lower-cased before matching.
func DefaultSuspiciousPaths() []string {
	return []string{
		"/.env", "/admin", "/wp-admin", "/phpmyadmin", "/config",
		"/backup", "/database", "/xmlrpc.php", "/wp-config.php",
		"/server-status", "/server-info", "/.git", "/.svn",
		"/api/v1/admin", "/api/admin", "/administrator",
		"/etc/passwd", "/proc/version", "/windows/system32",
		"/../../../", "/cgi-bin/", "/shell.php", "/upload.php",
	}
}

// Validate checks that every value is within its documented bounds
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	unit := func(v float64) bool { return v >= 0 && v <= 1 }

	t := c.Thresholds
	check(t.RequestsPerMinute > 0, "thresholds.requests_per_minute must be positive")
	check(t.RequestsPerHour > 0, "thresholds.requests_per_hour must be positive")
	check(unit(t.ErrorRateThreshold), "thresholds.error_rate_threshold must be between 0 and 1")
	check(unit(t.BotConfidenceThreshold), "thresholds.bot_confidence_threshold must be between 0 and 1")
	check(t.TimingRequestsPerMinute >= 0, "thresholds.timing_requests_per_minute must not be negative")
	check(t.TimingMaxResponseMs >= 0, "thresholds.timing_max_response_ms must not be negative")
	check(t.SinglePathMinRequests >= 0, "thresholds.single_path_min_requests must not be negative")

	s := c.Scoring
	for name, w := range map[string]float64{
		"request_rate":       s.RequestRate,
		"user_agent":         s.UserAgent,
		"missing_user_agent": s.MissingUserAgent,
		"path_diversity":     s.PathDiversity,
		"error_rate":         s.ErrorRate,
		"suspicious_paths":   s.SuspiciousPaths,
		"timing":             s.Timing,
	} {
		check(unit(w), "scoring.%s must be between 0 and 1", name)
	}

	r := c.Risk
	check(unit(r.CriticalConfidence), "risk.critical_confidence must be between 0 and 1")
	check(unit(r.HighConfidence), "risk.high_confidence must be between 0 and 1")
	check(unit(r.MediumConfidence), "risk.medium_confidence must be between 0 and 1")
	check(r.CriticalConfidence >= r.HighConfidence && r.HighConfidence >= r.MediumConfidence,
		"risk confidences must be ordered critical >= high >= medium")
	check(r.CriticalSuspiciousRequests >= 0, "risk.critical_suspicious_requests must not be negative")
	check(r.HighRequestsPerMinute > 0, "risk.high_requests_per_minute must be positive")
	check(r.MediumRequestsPerMinute > 0, "risk.medium_requests_per_minute must be positive")

	d := c.DDoS
	check(d.WindowMinutes > 0, "ddos.window_minutes must be a positive integer")
	check(d.MinRequestsThreshold > 0, "ddos.min_requests_threshold must be positive")
	check(unit(d.MinIPDiversity), "ddos.min_ip_diversity must be between 0 and 1")
	check(unit(d.MinErrorRate), "ddos.min_error_rate must be between 0 and 1")
	check(d.TopIPs > 0, "ddos.top_ips must be positive")

	for i, sig := range c.Signatures {
		check(sig.Name != "", "signatures[%d] must have a name", i)
		check(sig.ConfidenceScore > 0 && sig.ConfidenceScore <= 1,
			"signatures[%d] (%s) confidence_score must be in (0, 1]", i, sig.Name)
		check(len(sig.UserAgentPatterns) > 0, "signatures[%d] (%s) must have at least one pattern", i, sig.Name)
		for _, p := range sig.UserAgentPatterns {
			_, err := regexp.Compile(p)
			check(err == nil, "signatures[%d] (%s) pattern %q does not compile", i, sig.Name, p)
		}
	}
	for i, p := range c.SuspiciousPaths {
		check(p != "", "suspicious_paths[%d] must not be empty", i)
		if p != strings.ToLower(p) {
			slog.Warn("Suspicious path contains upper case and will never match a normalized path", "path", p)
		}
	}

	o := c.Output
	check(o.MaxTopThreats > 0, "output.max_top_threats must be positive")
	check(o.MaxSampleEntries >= 0, "output.max_sample_entries must not be negative")
	check(o.MaxTopPaths > 0, "output.max_top_paths must be positive")

	if _, err := NewPathExcluder(c.ExcludedPaths); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Load builds a configuration from the defaults, an optional YAML file and
// BOTSENTRY_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults, err := defaultSettings()
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		slog.Info("Loaded config file", "path", path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultSettings flattens Default() into the generic map viper expects for defaults
func defaultSettings() (map[string]any, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}
	settings := make(map[string]any)
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode default config: %w", err)
	}
	return settings, nil
}

// WriteYAML writes the configuration as YAML
func (c *Config) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
