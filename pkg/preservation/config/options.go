package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage adds a memory storage backend
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("storage backend name cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: name, Type: "memory"})
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("storage backend name cannot be empty")
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   name,
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": baseDir},
		})
		return nil
	}
}

// WithS3Storage adds an S3 storage backend. An empty endpoint uses AWS.
func WithS3Storage(name, bucket, region, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("storage backend name cannot be empty")
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		backend := StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}
		if endpoint != "" {
			backend.Config["endpoint"] = endpoint
			backend.Config["use_path_style"] = usePathStyle
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithStorageRoles names the backends used for preservation files,
// derivatives and, optionally, backups
func WithStorageRoles(preservation, derivatives, backup string) Option {
	return func(c *ServerConfig) error {
		c.PreservationStorage = preservation
		c.DerivativeStorage = derivatives
		c.BackupStorage = backup
		return nil
	}
}

// WithObjectKeyGenerator sets the object key layout ("flat" or "sharded")
func WithObjectKeyGenerator(generator string) Option {
	return func(c *ServerConfig) error {
		c.ObjectKeyGenerator = generator
		return nil
	}
}

// WithIdentifierService points at an EZID-compatible service
func WithIdentifierService(url, shoulder, username, password string) Option {
	return func(c *ServerConfig) error {
		if shoulder == "" {
			return fmt.Errorf("identifier shoulder cannot be empty")
		}
		c.IdentifierURL = url
		c.IdentifierShoulder = shoulder
		c.IdentifierUsername = username
		c.IdentifierPassword = password
		return nil
	}
}

// WithPublishing sets the publishing endpoint
func WithPublishing(url, token string) Option {
	return func(c *ServerConfig) error {
		c.PublishURL = url
		c.PublishToken = token
		return nil
	}
}

// WithIdentifierRetry sets the identifier lookup attempts and delay
func WithIdentifierRetry(attempts int, delay time.Duration) Option {
	return func(c *ServerConfig) error {
		if attempts < 1 {
			return fmt.Errorf("identifier attempts must be positive, got: %d", attempts)
		}
		c.IdentifierAttempts = attempts
		c.IdentifierRetryDelay = delay
		return nil
	}
}

// WithUpdateConcurrency bounds parallel asset updates
func WithUpdateConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		c.UpdateConcurrency = n
		return nil
	}
}
