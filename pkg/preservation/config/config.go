package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/characterize"
	"github.com/tendant/simple-preservation/pkg/preservation/derivative"
	"github.com/tendant/simple-preservation/pkg/preservation/identifier"
	"github.com/tendant/simple-preservation/pkg/preservation/objectkey"
	"github.com/tendant/simple-preservation/pkg/preservation/publish"
	"github.com/tendant/simple-preservation/pkg/preservation/repo/memory"
	repopg "github.com/tendant/simple-preservation/pkg/preservation/repo/postgres"
	fsstorage "github.com/tendant/simple-preservation/pkg/preservation/storage/fs"
	memorystorage "github.com/tendant/simple-preservation/pkg/preservation/storage/memory"
	s3storage "github.com/tendant/simple-preservation/pkg/preservation/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "preservation",
		StorageBackends: []StorageBackendConfig{
			{Name: "preservation", Type: "memory", Config: map[string]interface{}{}},
			{Name: "derivatives", Type: "memory", Config: map[string]interface{}{}},
		},
		PreservationStorage:  "preservation",
		DerivativeStorage:    "derivatives",
		ObjectKeyGenerator:   "flat",
		IdentifierShoulder:   "ark:/99999/fk4",
		UpdateConcurrency:    4,
		IdentifierAttempts:   3,
		IdentifierRetryDelay: time.Second,
		SupportedExtensions:  slices.Clone(preservation.DefaultSupportedExtensions),
		SupportedMimeTypes:   slices.Clone(preservation.DefaultSupportedMimeTypes),
	}
}

// ServerConfig represents configuration for the preservation importer and its server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: preservation)
	AutoMigrate  bool   // Create tables on startup

	// Storage configuration. Import sources are referenced by name from
	// requests; the named roles below must also be configured backends.
	StorageBackends     []StorageBackendConfig
	PreservationStorage string
	DerivativeStorage   string
	BackupStorage       string // optional
	ObjectKeyGenerator  string // "flat", "sharded"

	// Identifier service; an empty URL mints locally under the shoulder
	IdentifierURL      string
	IdentifierShoulder string
	IdentifierUsername string
	IdentifierPassword string

	// Publishing endpoint; an empty URL disables publishing
	PublishURL   string
	PublishToken string

	// Ingest behaviour
	UpdateConcurrency    int
	IdentifierAttempts   int
	IdentifierRetryDelay time.Duration
	SupportedExtensions  []string
	SupportedMimeTypes   []string
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	roles := map[string]string{
		"preservation": c.PreservationStorage,
		"derivative":   c.DerivativeStorage,
	}
	if c.BackupStorage != "" {
		roles["backup"] = c.BackupStorage
	}
	for role, name := range roles {
		if name == "" {
			return fmt.Errorf("%s storage backend is required", role)
		}
		if !c.hasBackend(name) {
			return fmt.Errorf("%s storage backend '%s' not found in configured backends", role, name)
		}
	}
	if c.BackupStorage != "" && c.BackupStorage == c.PreservationStorage {
		return errors.New("backup storage must differ from preservation storage")
	}

	if _, err := objectkey.ForName(c.ObjectKeyGenerator); err != nil {
		return err
	}
	if c.UpdateConcurrency < 1 {
		return fmt.Errorf("update concurrency must be positive, got: %d", c.UpdateConcurrency)
	}
	if c.IdentifierAttempts < 1 {
		return fmt.Errorf("identifier attempts must be positive, got: %d", c.IdentifierAttempts)
	}
	if c.IdentifierURL == "" && c.IdentifierShoulder == "" {
		return errors.New("identifier shoulder is required")
	}

	return nil
}

func (c *ServerConfig) hasBackend(name string) bool {
	for _, backend := range c.StorageBackends {
		if backend.Name == name {
			return true
		}
	}
	return false
}

// BuildImporter creates an Importer from the server configuration
func (c *ServerConfig) BuildImporter(ctx context.Context, logger *slog.Logger) (*preservation.Importer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	stores := make(preservation.Stores, len(c.StorageBackends))
	options := []preservation.Option{
		preservation.WithRepository(repo),
		preservation.WithLogger(logger),
	}
	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		stores[backendConfig.Name] = store
		options = append(options, preservation.WithBlobStore(backendConfig.Name, store))
	}

	keys, err := objectkey.ForName(c.ObjectKeyGenerator)
	if err != nil {
		return nil, err
	}

	derivatives, err := derivative.New(stores, c.DerivativeStorage,
		derivative.WithKeyGenerator(keys),
		derivative.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	var identifiers preservation.IdentifierService
	if c.IdentifierURL != "" {
		identifiers = identifier.New(c.IdentifierURL, c.IdentifierShoulder, c.IdentifierUsername, c.IdentifierPassword)
	} else {
		identifiers = preservation.NewLocalIdentifierService(c.IdentifierShoulder)
	}

	publisher := preservation.NewNoopPublisher()
	if c.PublishURL != "" {
		publisher = publish.New(c.PublishURL, c.PublishToken)
	}

	options = append(options,
		preservation.WithPreservationStorage(c.PreservationStorage),
		preservation.WithBackupStorage(c.BackupStorage),
		preservation.WithKeyGenerator(keys),
		preservation.WithCharacterizer(characterize.New()),
		preservation.WithDerivativeGenerator(derivatives),
		preservation.WithIdentifierService(identifiers),
		preservation.WithPublisher(publisher),
		preservation.WithUpdateConcurrency(c.UpdateConcurrency),
		preservation.WithIdentifierRetry(c.IdentifierAttempts, c.IdentifierRetryDelay),
	)
	if len(c.SupportedExtensions) > 0 {
		options = append(options, preservation.WithSupportedExtensions(c.SupportedExtensions...))
	}
	if len(c.SupportedMimeTypes) > 0 {
		options = append(options, preservation.WithSupportedMimeTypes(c.SupportedMimeTypes...))
	}

	return preservation.New(options...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (preservation.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		repo := repopg.NewWithPool(pool)
		if c.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres and that schema, when
// provided, can be selected.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (preservation.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
