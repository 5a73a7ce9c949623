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

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabaseURL selects the repository: "memory" or a postgres URL
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithAutoMigrate applies migrations when the repository is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithDBConnectTimeout bounds the retries of the initial database connection
func WithDBConnectTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("database connect timeout must be positive")
		}
		c.DBConnectTimeout = d
		return nil
	}
}

// WithStorageURL selects the artifact store
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.AWSAccessKeyID = accessKeyID
		c.AWSSecretAccessKey = secretAccessKey
		return nil
	}
}

// WithObjectKeyStrategy sets the artifact key layout ("path" or "git-like")
func WithObjectKeyStrategy(name string) Option {
	return func(c *ServerConfig) error {
		c.ObjectKeyStrategy = name
		return nil
	}
}

// WithUsers sets the static user list ("user:bcrypt-hash,...")
func WithUsers(users string) Option {
	return func(c *ServerConfig) error {
		c.Users = users
		return nil
	}
}

// WithAuthRealm sets the Basic auth realm
func WithAuthRealm(realm string) Option {
	return func(c *ServerConfig) error {
		c.AuthRealm = realm
		return nil
	}
}

// WithMaxBodyBytes caps register/upload request bodies
func WithMaxBodyBytes(n int64) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max body bytes must be positive")
		}
		c.MaxBodyBytes = n
		return nil
	}
}

// WithLogLevel sets the log level
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		c.LogLevel = level
		return nil
	}
}
