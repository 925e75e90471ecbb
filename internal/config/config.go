package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // reference timezone must resolve in minimal containers
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or a .env file loaded by the binary before Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Auth          AuthConfig
	LLM           LLMConfig
	ElevenLabs    ElevenLabsConfig
	Calendar      CalendarConfig
	Elasticsearch ElasticsearchConfig
	Pipeline      PipelineConfig
}

type AppConfig struct {
	Env         string
	Port        int
	MetricsPort int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// LLMConfig selects the summarization/embedding provider.
type LLMConfig struct {
	Provider       string // openai | gemini
	OpenAIAPIKey   string
	GeminiAPIKey   string
	SummaryModel   string
	DetectionModel string
	EmbeddingModel string
	EmbeddingDims  int
	RequestTimeout time.Duration
}

type ElevenLabsConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
}

type CalendarConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type ElasticsearchConfig struct {
	URL      string
	APIKey   string
	Username string
	Password string
	Index    string
}

// PipelineConfig tunes the job queues.
type PipelineConfig struct {
	ReferenceTimezone string

	CallConcurrency      int
	CallJobsPerSecond    int
	CallGlobalCap        int
	MeetingConcurrency   int
	MeetingJobsPerSecond int

	LeaseDuration time.Duration
	JobTimeout    time.Duration
	KeyPrefix     string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	collect := func(err error) {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
	}

	var err error
	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, err = mustInt("APP_PORT")
	collect(err)
	c.App.MetricsPort, err = optionalInt("METRICS_PORT", 9090)
	collect(err)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, err = mustInt("DB_PORT")
	collect(err)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, err = mustInt("REDIS_PORT")
	collect(err)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, err = optionalInt("REDIS_DB", 0)
	collect(err)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, err = optionalDuration("JWT_ACCESS_TTL")
	collect(err)
	c.Auth.RefreshTokenTTL, err = optionalDuration("JWT_REFRESH_TTL")
	collect(err)

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	c.LLM.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.LLM.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	c.LLM.SummaryModel = strings.TrimSpace(os.Getenv("LLM_SUMMARY_MODEL"))
	c.LLM.DetectionModel = strings.TrimSpace(os.Getenv("LLM_DETECTION_MODEL"))
	c.LLM.EmbeddingModel = strings.TrimSpace(os.Getenv("LLM_EMBEDDING_MODEL"))
	c.LLM.EmbeddingDims, err = optionalInt("LLM_EMBEDDING_DIMS", 0)
	collect(err)
	c.LLM.RequestTimeout, err = optionalDuration("LLM_REQUEST_TIMEOUT")
	collect(err)

	c.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.ElevenLabs.BaseURL = strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	c.ElevenLabs.WebhookSecret = os.Getenv("ELEVENLABS_WEBHOOK_SECRET")

	c.Calendar.BaseURL = strings.TrimSpace(os.Getenv("CALCOM_BASE_URL"))
	c.Calendar.RequestTimeout, err = optionalDuration("CALCOM_REQUEST_TIMEOUT")
	collect(err)

	c.Elasticsearch.URL = strings.TrimSpace(os.Getenv("ELASTICSEARCH_URL"))
	c.Elasticsearch.APIKey = os.Getenv("ELASTICSEARCH_API_KEY")
	c.Elasticsearch.Username = strings.TrimSpace(os.Getenv("ELASTICSEARCH_USERNAME"))
	c.Elasticsearch.Password = os.Getenv("ELASTICSEARCH_PASSWORD")
	c.Elasticsearch.Index = strings.TrimSpace(os.Getenv("ELASTICSEARCH_MEMORY_INDEX"))

	c.Pipeline.ReferenceTimezone = strings.TrimSpace(os.Getenv("REFERENCE_TIMEZONE"))
	c.Pipeline.CallConcurrency, err = optionalInt("QUEUE_CALL_CONCURRENCY", 0)
	collect(err)
	c.Pipeline.CallJobsPerSecond, err = optionalInt("QUEUE_CALL_JOBS_PER_SECOND", 0)
	collect(err)
	c.Pipeline.CallGlobalCap, err = optionalInt("QUEUE_CALL_GLOBAL_CAP", 0)
	collect(err)
	c.Pipeline.MeetingConcurrency, err = optionalInt("QUEUE_MEETING_CONCURRENCY", 0)
	collect(err)
	c.Pipeline.MeetingJobsPerSecond, err = optionalInt("QUEUE_MEETING_JOBS_PER_SECOND", 0)
	collect(err)
	c.Pipeline.LeaseDuration, err = optionalDuration("QUEUE_LEASE_DURATION")
	collect(err)
	c.Pipeline.JobTimeout, err = optionalDuration("QUEUE_JOB_TIMEOUT")
	collect(err)
	c.Pipeline.KeyPrefix = strings.TrimSpace(os.Getenv("QUEUE_KEY_PREFIX"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// withDefaults fills optional values. Production must still be explicit about DB_SSLMODE.
func (c Config) withDefaults() Config {
	out := c
	if out.DB.SSLMode == "" && !out.IsProduction() {
		out.DB.SSLMode = "disable"
	}
	if out.Auth.AccessTokenTTL <= 0 {
		out.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if out.Auth.RefreshTokenTTL <= 0 {
		out.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if out.LLM.Provider == "" {
		out.LLM.Provider = "openai"
	}
	if out.LLM.RequestTimeout <= 0 {
		out.LLM.RequestTimeout = 60 * time.Second
	}

	if out.ElevenLabs.BaseURL == "" {
		out.ElevenLabs.BaseURL = "https://api.elevenlabs.io"
	}
	if out.Calendar.BaseURL == "" {
		out.Calendar.BaseURL = "https://api.cal.com/v1"
	}
	if out.Calendar.RequestTimeout <= 0 {
		out.Calendar.RequestTimeout = 30 * time.Second
	}
	if out.Elasticsearch.URL == "" {
		out.Elasticsearch.URL = "http://localhost:9200"
	}
	if out.Elasticsearch.Index == "" {
		out.Elasticsearch.Index = "conversation-memory"
	}

	if out.Pipeline.ReferenceTimezone == "" {
		out.Pipeline.ReferenceTimezone = "UTC"
	}
	if out.Pipeline.CallConcurrency <= 0 {
		out.Pipeline.CallConcurrency = 5
	}
	if out.Pipeline.CallJobsPerSecond <= 0 {
		out.Pipeline.CallJobsPerSecond = 10
	}
	if out.Pipeline.MeetingConcurrency <= 0 {
		out.Pipeline.MeetingConcurrency = 3
	}
	if out.Pipeline.MeetingJobsPerSecond <= 0 {
		out.Pipeline.MeetingJobsPerSecond = 5
	}
	if out.Pipeline.LeaseDuration <= 0 {
		out.Pipeline.LeaseDuration = 5 * time.Minute
	}
	if out.Pipeline.JobTimeout <= 0 {
		out.Pipeline.JobTimeout = 2 * time.Minute
	}
	if out.Pipeline.KeyPrefix == "" {
		out.Pipeline.KeyPrefix = "callflow"
	}
	return out
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.MetricsPort < 0 || c.App.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("METRICS_PORT must be a valid port, got %d", c.App.MetricsPort))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.ElevenLabs.WebhookSecret == "" {
			errs = append(errs, errors.New("ELEVENLABS_WEBHOOK_SECRET is required in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.LLM.Provider != "openai" && c.LLM.Provider != "gemini" {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be one of openai, gemini, got %q", c.LLM.Provider))
	}
	if c.Pipeline.ReferenceTimezone != "" {
		if _, err := time.LoadLocation(c.Pipeline.ReferenceTimezone); err != nil {
			errs = append(errs, fmt.Errorf("REFERENCE_TIMEZONE is not a known zone: %q", c.Pipeline.ReferenceTimezone))
		}
	}

	return joinErrors(errs)
}

// ValidateWorker adds the checks only the worker process needs (provider credentials).
func (c Config) ValidateWorker() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai"))
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when LLM_PROVIDER=gemini"))
		}
	}
	if c.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.App.MetricsPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ReferenceLocation returns the zone spoken times are interpreted in.
func (c Config) ReferenceLocation() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.ReferenceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
