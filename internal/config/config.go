// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Storage and metadata backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMinIO    = "minio"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the HTTP trigger API.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	Workers                int `mapstructure:"workers"`
	QueueDepth             int `mapstructure:"queue_depth"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// SourceConfig describes the decisions search site. Every field name and
// selector is data so a site change needs no code change.
type SourceConfig struct {
	SearchURL       string                `mapstructure:"search_url"`
	FormID          string                `mapstructure:"form_id"`
	QueryField      string                `mapstructure:"query_field"`
	FromField       string                `mapstructure:"from_field"`
	ToField         string                `mapstructure:"to_field"`
	SubmitButton    string                `mapstructure:"submit_button"`
	MaxPages        int                   `mapstructure:"max_pages"`
	ContentSelector string                `mapstructure:"content_selector"`
	SearchSegment   string                `mapstructure:"search_segment"`
	Selectors       SelectorsConfig       `mapstructure:"selectors"`
	Categories      []CategoryFieldConfig `mapstructure:"categories"`
}

// SelectorsConfig locates listing fields on a result page.
type SelectorsConfig struct {
	Listing     string `mapstructure:"listing"`
	Link        string `mapstructure:"link"`
	RefNumber   string `mapstructure:"ref_number"`
	Date        string `mapstructure:"date"`
	Description string `mapstructure:"description"`
	NextPage    string `mapstructure:"next_page"`
}

// CategoryFieldConfig maps one category to the form field selecting it.
type CategoryFieldConfig struct {
	Name  string `mapstructure:"name"`
	Field string `mapstructure:"field"`
	Value string `mapstructure:"value"`
}

// HTTPConfig configures fetch timeouts, retries and politeness.
type HTTPConfig struct {
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify"`
	UserAgent          string  `mapstructure:"user_agent"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	RatePerSecond      float64 `mapstructure:"rate_per_second"`
	Burst              int     `mapstructure:"burst"`
	MaxBodyBytes       int     `mapstructure:"max_body_bytes"`
}

// HarvestConfig bounds the harvest stage fan-out.
type HarvestConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	DetailConcurrency     int      `mapstructure:"detail_concurrency"`
	AttachmentConcurrency int      `mapstructure:"attachment_concurrency"`
	Categories            []string `mapstructure:"categories"`
}

// NormalizeConfig bounds the normalize stage.
type NormalizeConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	ContentSelector string `mapstructure:"content_selector"`
}

// StorageConfig selects the object store and names the raw and processed
// buckets.
type StorageConfig struct {
	Backend         string      `mapstructure:"backend"`
	RawBucket       string      `mapstructure:"raw_bucket"`
	ProcessedBucket string      `mapstructure:"processed_bucket"`
	LocalDir        string      `mapstructure:"local_dir"`
	MinIO           MinIOConfig `mapstructure:"minio"`
	GCS             GCSConfig   `mapstructure:"gcs"`
}

// MinIOConfig holds S3-compatible endpoint credentials.
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Region        string `mapstructure:"region"`
	Secure        bool   `mapstructure:"secure"`
	CreateBuckets bool   `mapstructure:"create_buckets"`
}

// GCSConfig holds optional Cloud Storage client settings.
type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

// MetadataConfig selects the metadata repository.
type MetadataConfig struct {
	Backend  string         `mapstructure:"backend"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MongoConfig locates the Mongo collections.
type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	CasesCollection       string `mapstructure:"cases_collection"`
	NormalizedCollection  string `mapstructure:"normalized_collection"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string `mapstructure:"dsn"`
	CasesTable      string `mapstructure:"cases_table"`
	NormalizedTable string `mapstructure:"normalized_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	EnsureSchema    bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds stage-completion notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from defaults, an optional file and HARVESTER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	_ = v.BindEnv("server.port", "HARVESTER_SERVER_PORT", "PORT")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	const field = "ctl00$ContentPlaceHolder_Main$"
	v.SetDefault("logging.development", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	v.SetDefault("source.search_url", "https://www.workplacerelations.ie/en/search/")
	v.SetDefault("source.form_id", "form")
	v.SetDefault("source.query_field", field+"TextBox1")
	v.SetDefault("source.from_field", field+"TextBox2")
	v.SetDefault("source.to_field", field+"TextBox3")
	v.SetDefault("source.submit_button", field+"refine_btn")
	v.SetDefault("source.max_pages", 500)
	v.SetDefault("source.content_selector", "div.col-sm-9")
	v.SetDefault("source.search_segment", "/search")
	v.SetDefault("source.selectors.listing", "li.each-item")
	v.SetDefault("source.selectors.link", "h2.title a")
	v.SetDefault("source.selectors.ref_number", "span.refNO")
	v.SetDefault("source.selectors.date", "span.date")
	v.SetDefault("source.selectors.description", "p.description")
	v.SetDefault("source.selectors.next_page", "ul.pager li:last-child a")
	defaults := crawler.DefaultCategorySelectors()
	categories := make([]map[string]any, 0, len(defaults))
	for _, c := range defaults.Categories() {
		categories = append(categories, map[string]any{
			"name":  string(c),
			"field": defaults[c].Name,
			"value": defaults[c].Value,
		})
	}
	v.SetDefault("source.categories", categories)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; wrc-harvester/1.0)")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("http.rate_per_second", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.max_body_bytes", 64<<20)

	v.SetDefault("harvest.concurrency", 2)
	v.SetDefault("harvest.detail_concurrency", 4)
	v.SetDefault("harvest.attachment_concurrency", 4)
	v.SetDefault("normalize.concurrency", 4)
	v.SetDefault("normalize.content_selector", "div.col-sm-9")

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.raw_bucket", "wrc-raw")
	v.SetDefault("storage.processed_bucket", "wrc-processed")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.minio.region", "us-east-1")
	v.SetDefault("storage.minio.create_buckets", true)

	v.SetDefault("metadata.backend", BackendMemory)
	v.SetDefault("metadata.mongo.database", "wrc")
	v.SetDefault("metadata.mongo.cases_collection", "cases")
	v.SetDefault("metadata.mongo.normalized_collection", "cases_normalized")
	v.SetDefault("metadata.mongo.connect_timeout_seconds", 10)
	v.SetDefault("metadata.postgres.cases_table", "cases")
	v.SetDefault("metadata.postgres.normalized_table", "cases_normalized")
	v.SetDefault("metadata.postgres.max_conns", 8)
	v.SetDefault("metadata.postgres.ensure_schema", true)

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "wrc-stage-events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Server.Workers > 0, "server.workers must be > 0")
	check(c.Source.SearchURL != "", "source.search_url is required")
	check(c.Source.FormID != "" && c.Source.SubmitButton != "", "source.form_id and source.submit_button are required")
	check(c.Source.QueryField != "" && c.Source.FromField != "" && c.Source.ToField != "",
		"source.query_field, source.from_field and source.to_field are required")
	if _, err := c.CategorySelectors(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.HarvestCategories(); err != nil {
		errs = append(errs, err)
	}
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds must be > 0")
	check(c.HTTP.MaxRetries >= 0, "http.max_retries must be >= 0")
	check(c.HTTP.RatePerSecond >= 0, "http.rate_per_second must be >= 0")
	check(c.Harvest.Concurrency > 0, "harvest.concurrency must be > 0")
	check(c.Normalize.Concurrency > 0, "normalize.concurrency must be > 0")

	check(c.Storage.RawBucket != "" && c.Storage.ProcessedBucket != "",
		"storage.raw_bucket and storage.processed_bucket are required")
	check(c.Storage.RawBucket != c.Storage.ProcessedBucket,
		"storage.raw_bucket and storage.processed_bucket must differ")
	switch c.Storage.Backend {
	case BackendMemory, BackendGCS:
	case BackendLocal:
		check(c.Storage.LocalDir != "", "storage.local_dir is required for the local backend")
	case BackendMinIO:
		check(c.Storage.MinIO.Endpoint != "", "storage.minio.endpoint is required for the minio backend")
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, local, gcs, minio", c.Storage.Backend))
	}

	switch c.Metadata.Backend {
	case BackendMemory:
	case BackendMongo:
		check(c.Metadata.Mongo.URI != "" && c.Metadata.Mongo.Database != "",
			"metadata.mongo.uri and metadata.mongo.database are required for the mongo backend")
	case BackendPostgres:
		check(c.Metadata.Postgres.DSN != "", "metadata.postgres.dsn is required for the postgres backend")
	default:
		errs = append(errs, fmt.Errorf("metadata.backend %q is not one of memory, mongo, postgres", c.Metadata.Backend))
	}

	if c.PubSub.Enabled {
		check(c.PubSub.ProjectID != "" && c.PubSub.Topic != "",
			"pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	return errors.Join(errs...)
}

// CategorySelectors converts the configured category table.
func (c Config) CategorySelectors() (crawler.CategorySelectors, error) {
	if len(c.Source.Categories) == 0 {
		return nil, errors.New("source.categories must name at least one category")
	}
	out := make(crawler.CategorySelectors, len(c.Source.Categories))
	for _, entry := range c.Source.Categories {
		category, err := crawler.ParseCategory(entry.Name)
		if err != nil {
			// Names outside the built-in set are kept verbatim.
			category = crawler.Category(strings.TrimSpace(entry.Name))
		}
		if category == crawler.CategoryAll {
			return nil, errors.New("source.categories entries need a name")
		}
		if entry.Field == "" {
			return nil, fmt.Errorf("source.categories %q: field is required", entry.Name)
		}
		out[category] = crawler.FormField{Name: entry.Field, Value: entry.Value}
	}
	return out, nil
}

// HarvestCategories returns the categories searched when a request names
// none: harvest.categories when set, otherwise every configured category.
func (c Config) HarvestCategories() ([]crawler.Category, error) {
	selectors, err := c.CategorySelectors()
	if err != nil {
		return nil, err
	}
	if len(c.Harvest.Categories) == 0 {
		return selectors.Categories(), nil
	}
	return ParseCategories(c.Harvest.Categories, selectors)
}

// ParseCategories resolves category names against the configured table.
// "all" selects no category filter at all.
func ParseCategories(names []string, selectors crawler.CategorySelectors) ([]crawler.Category, error) {
	out := make([]crawler.Category, 0, len(names))
	for _, name := range names {
		category, err := crawler.ParseCategory(name)
		if err != nil {
			category = crawler.Category(strings.TrimSpace(name))
		}
		if category != crawler.CategoryAll {
			if _, ok := selectors[category]; !ok {
				return nil, fmt.Errorf("category %q is not configured", name)
			}
		}
		out = append(out, category)
	}
	return out, nil
}

// Timeout converts http.timeout_seconds to a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts server.shutdown_timeout_seconds to a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
