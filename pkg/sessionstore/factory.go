package sessionstore

import "fmt"

// RepositoryConfig contains configuration for creating a session storage repository
type RepositoryConfig struct {
	// DB is required for PostgreSQL repositories
	DB DBTX
}

// NewRepository creates a session storage repository based on the persistence type
func NewRepository(persistenceType string, config RepositoryConfig) (Repository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		return NewPostgresRepository(config.DB), nil
	case "memory", "inmem":
		return NewInMemRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, memory)", persistenceType)
	}
}
