package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"posextract/pkg/contracts/domain"
)

// EnvPrefix namespaces every environment variable (POSX_SERVER_PORT, ...).
const EnvPrefix = "POSX"

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
	Site        SiteConfig        `yaml:"site" envconfig:"SITE"`
	Credentials CredentialsConfig `yaml:"credentials" envconfig:"CREDENTIALS"`
	Browser     BrowserConfig     `yaml:"browser" envconfig:"BROWSER"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts" envconfig:"TIMEOUTS"`
	Extraction  ExtractionConfig  `yaml:"extraction" envconfig:"EXTRACTION"`
	Delivery    DeliveryConfig    `yaml:"delivery" envconfig:"DELIVERY"`
	Store       StoreConfig       `yaml:"store" envconfig:"STORE"`
	Export      ExportConfig      `yaml:"export" envconfig:"EXPORT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	SubmitRPS       float64       `yaml:"submit_rps" envconfig:"SUBMIT_RPS"`
	SubmitBurst     int           `yaml:"submit_burst" envconfig:"SUBMIT_BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"omitempty,oneof=console stderr file both"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=json text"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig controls tracing output
type TelemetryConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"omitempty,oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR"`
	DownloadDir string `yaml:"download_dir" envconfig:"DOWNLOAD_DIR"`
	ReportsDir  string `yaml:"reports_dir" envconfig:"REPORTS_DIR"`
	ProfileDir  string `yaml:"profile_dir" envconfig:"PROFILE_DIR"`
}

// SiteConfig describes the vendor back-office. Selectors are integration detail
// and live here rather than in code.
type SiteConfig struct {
	BaseURL       string         `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	LoginPath     string         `yaml:"login_path" envconfig:"LOGIN_PATH"`
	ProtectedPath string         `yaml:"protected_path" envconfig:"PROTECTED_PATH"`
	ReportPath    string         `yaml:"report_path" envconfig:"REPORT_PATH"`
	DateLayout    string         `yaml:"date_layout" envconfig:"DATE_LAYOUT"`
	Selectors     SelectorConfig `yaml:"selectors" envconfig:"SELECTORS"`
}

// SelectorConfig holds the CSS selectors the flows interact with. Location
// selectors may contain the {id} placeholder.
type SelectorConfig struct {
	UsernameInput    string `yaml:"username_input" envconfig:"USERNAME_INPUT"`
	PasswordInput    string `yaml:"password_input" envconfig:"PASSWORD_INPUT"`
	SubmitButton     string `yaml:"submit_button" envconfig:"SUBMIT_BUTTON"`
	LoginError       string `yaml:"login_error" envconfig:"LOGIN_ERROR"`
	Challenge        string `yaml:"challenge" envconfig:"CHALLENGE"`
	ChallengeSiteKey string `yaml:"challenge_site_key_attr" envconfig:"CHALLENGE_SITE_KEY_ATTR"`
	ChallengeToken   string `yaml:"challenge_token" envconfig:"CHALLENGE_TOKEN"`
	ReportRoot       string `yaml:"report_root" envconfig:"REPORT_ROOT"`
	DateInput        string `yaml:"date_input" envconfig:"DATE_INPUT"`
	ApplyDate        string `yaml:"apply_date" envconfig:"APPLY_DATE"`
	LocationList     string `yaml:"location_list" envconfig:"LOCATION_LIST"`
	LocationOption   string `yaml:"location_option" envconfig:"LOCATION_OPTION"`
	LocationSelected string `yaml:"location_selected" envconfig:"LOCATION_SELECTED"`
	ExportButton     string `yaml:"export_button" envconfig:"EXPORT_BUTTON"`
}

// CredentialsConfig holds the back-office login
type CredentialsConfig struct {
	Username string `yaml:"username" envconfig:"USERNAME" validate:"required"`
	Password string `yaml:"password" envconfig:"PASSWORD" validate:"required"`
}

// BrowserConfig controls the chromedp allocator
type BrowserConfig struct {
	Headful    bool     `yaml:"headful" envconfig:"HEADFUL"`
	ExecPath   string   `yaml:"exec_path" envconfig:"EXEC_PATH"`
	UserAgent  string   `yaml:"user_agent" envconfig:"USER_AGENT"`
	ExtraFlags []string `yaml:"extra_flags" envconfig:"EXTRA_FLAGS"`
	NoSandbox  bool     `yaml:"no_sandbox" envconfig:"NO_SANDBOX"`
}

// TimeoutsConfig bounds every suspension point
type TimeoutsConfig struct {
	Launch       time.Duration `yaml:"launch" envconfig:"LAUNCH" validate:"gt=0"`
	Navigation   time.Duration `yaml:"navigation" envconfig:"NAVIGATION" validate:"gt=0"`
	Selector     time.Duration `yaml:"selector" envconfig:"SELECTOR" validate:"gt=0"`
	Login        time.Duration `yaml:"login" envconfig:"LOGIN" validate:"gt=0"`
	Challenge    time.Duration `yaml:"challenge" envconfig:"CHALLENGE" validate:"gt=0"`
	Download     time.Duration `yaml:"download" envconfig:"DOWNLOAD" validate:"gt=0"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
	Job          time.Duration `yaml:"job" envconfig:"JOB" validate:"gt=0"`
}

// ExtractionConfig lists the locations and artifact conventions
type ExtractionConfig struct {
	Locations        LocationList  `yaml:"locations" envconfig:"LOCATIONS" validate:"required,min=1,dive"`
	ArtifactPattern  string        `yaml:"artifact_pattern" envconfig:"ARTIFACT_PATTERN"`
	LocationInterval time.Duration `yaml:"location_interval" envconfig:"LOCATION_INTERVAL"`
	ColumnMapFile    string        `yaml:"column_map_file" envconfig:"COLUMN_MAP_FILE"`
	Encoding         string        `yaml:"encoding" envconfig:"ENCODING" validate:"omitempty,oneof=utf-8 utf-16le utf-16be windows-1252 iso-8859-1"`
	Delimiter        string        `yaml:"delimiter" envconfig:"DELIMITER" validate:"omitempty,len=1"`
	// RequireStableSize holds a finished download back until two polls
	// agree on its size.
	RequireStableSize bool `yaml:"require_stable_size" envconfig:"REQUIRE_STABLE_SIZE"`
}

// DeliveryConfig controls outbound result notification
type DeliveryConfig struct {
	MaxRetries     int           `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"min=1,max=20"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" envconfig:"ATTEMPT_TIMEOUT" validate:"gt=0"`
	RetryDelay     time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	DefaultURL     string        `yaml:"default_url" envconfig:"DEFAULT_URL" validate:"omitempty,url"`
}

// StoreConfig selects the job store backend
type StoreConfig struct {
	Driver     string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=memory redis sqlite"`
	RedisAddr  string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisDB    int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisTTL   time.Duration `yaml:"redis_ttl" envconfig:"REDIS_TTL"`
	SQLitePath string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH" validate:"required_if=Driver sqlite"`
}

// ExportConfig controls the on-disk result export
type ExportConfig struct {
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=csv xlsx none"`
	Disabled bool   `yaml:"disabled" envconfig:"DISABLED"`
}

// LocationList decodes "Name=ID,Other=ID2" from the environment and a
// regular YAML sequence from the config file.
type LocationList []domain.Location

// Decode implements envconfig.Decoder
func (l *LocationList) Decode(value string) error {
	var out LocationList
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, id, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("location entry %q has no name", part)
		}
		out = append(out, domain.Location{Name: name, ExternalID: strings.TrimSpace(id)})
	}
	*l = out
	return nil
}

// Names returns the configured location names in order.
func (l LocationList) Names() []string {
	names := make([]string, len(l))
	for i, loc := range l {
		names[i] = loc.Name
	}
	return names
}

// Load builds the configuration. Precedence: environment, then the YAML file
// at path (if any), then Default().
func Load(path string) (*Config, error) {
	var envCfg Config
	if err := envconfig.Process(EnvPrefix, &envCfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", path, err)
		}
		if err := mergo.Merge(&envCfg, fileCfg); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	if err := mergo.Merge(&envCfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	envCfg.resolvePaths()

	if err := envCfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &envCfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile checks common locations for a config file
func findConfigFile() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	for _, location := range []string{"posextract.yaml", "configs/posextract.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Extraction.Locations))
	for _, loc := range c.Extraction.Locations {
		key := strings.ToLower(strings.TrimSpace(loc.Name))
		if seen[key] {
			return fmt.Errorf("duplicate location %q", loc.Name)
		}
		seen[key] = true
	}
	return nil
}

// Default returns default configuration. Site, credentials and locations have
// no sensible defaults and must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			SubmitRPS:       1,
			SubmitBurst:     3,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "logs/posextract.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   AppName,
			Environment:   "development",
			TraceExporter: "none",
			SampleRatio:   1,
		},
		Paths: PathsConfig{
			DataDir: DefaultDataDir,
		},
		Site: SiteConfig{
			LoginPath:     "/login",
			ProtectedPath: "/dashboard",
			ReportPath:    "/reports/sales",
			DateLayout:    "2006-01-02",
			Selectors:     DefaultSelectors(),
		},
		Timeouts: TimeoutsConfig{
			Launch:       30 * time.Second,
			Navigation:   45 * time.Second,
			Selector:     20 * time.Second,
			Login:        30 * time.Second,
			Challenge:    120 * time.Second,
			Download:     90 * time.Second,
			PollInterval: 500 * time.Millisecond,
			Job:          DefaultJobTimeout,
		},
		Extraction: ExtractionConfig{
			ArtifactPattern:  DefaultArtifactPattern,
			LocationInterval: 2 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxRetries:     3,
			AttemptTimeout: 10 * time.Second,
			RetryDelay:     2 * time.Second,
		},
		Store: StoreConfig{
			Driver:   "memory",
			RedisTTL: 7 * 24 * time.Hour,
		},
		Export: ExportConfig{
			Format: "csv",
		},
	}
}
