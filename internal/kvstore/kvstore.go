// Package kvstore implements the durable key-value port the telemetry engine
// persists its affiliate ledger through. Every backend stores opaque string
// values and replaces them whole on Set.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/giftscout-telemetry/internal/config"
)

// ErrUnavailable marks a failure of the backing store itself, as opposed to a
// missing key. Callers degrade to memory-only when they see it.
var ErrUnavailable = errors.New("kvstore: store unavailable")

// Store is the durable key-value port.
type Store interface {
	// Get returns the value for key. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set replaces the value for key.
	Set(ctx context.Context, key, value string) error
}

// Deps carries shared clients the factory can reuse instead of dialing its own.
type Deps struct {
	Redis *redis.Client
	DB    *sql.DB
}

// Open builds the store selected by cfg.Type and namespaces it under
// cfg.KeyPrefix.
func Open(ctx context.Context, cfg config.StorageConfig, deps Deps) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Type {
	case "memory":
		store = NewMemory()
	case "local", "":
		store, err = NewFile(cfg.LocalPath)
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("kvstore: redis storage selected but no redis client configured")
		}
		store = NewRedis(deps.Redis)
	case "s3":
		awsCfg, cfgErr := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.GetAWSProfile())
		if cfgErr != nil {
			return nil, cfgErr
		}
		store = NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
	case "dynamodb":
		awsCfg, cfgErr := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.GetAWSProfile())
		if cfgErr != nil {
			return nil, cfgErr
		}
		store = NewDynamoDB(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
	case "postgres":
		db := deps.DB
		if db == nil {
			if cfg.DatabaseURL == "" {
				return nil, fmt.Errorf("kvstore: postgres storage selected but database_url is empty")
			}
			db, err = sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("opening postgres: %w", err)
			}
		}
		pg := NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pg
	default:
		return nil, fmt.Errorf("kvstore: unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return WithPrefix(store, cfg.KeyPrefix), nil
}

type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix namespaces every key as "<prefix>:<key>". An empty prefix
// returns s unchanged.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, key, ErrUnavailable, err)
}
