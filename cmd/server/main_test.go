package main

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/giftscout-telemetry/internal/config"
	"github.com/ignite/giftscout-telemetry/internal/kvstore"
)

func TestOpenStoreRedisDownRunsWithoutStore(t *testing.T) {
	store := openStore(context.Background(), config.StorageConfig{Type: "redis"}, kvstore.Deps{})
	assert.Nil(t, store)
}

func TestOpenStorePostgresDownRunsWithoutStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS telemetry_kv").WillReturnError(errors.New("connection refused"))

	store := openStore(context.Background(), config.StorageConfig{Type: "postgres"}, kvstore.Deps{DB: db})
	assert.Nil(t, store)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenStoreMemory(t *testing.T) {
	store := openStore(context.Background(), config.StorageConfig{Type: "memory"}, kvstore.Deps{})
	require.NotNil(t, store)
	require.NoError(t, store.Set(context.Background(), "k", "v"))
}

func TestExtractHost(t *testing.T) {
	assert.Equal(t, "db.internal:5432", extractHost("postgres://u:p@db.internal:5432/telemetry"))
	assert.Equal(t, "(unknown)", extractHost("not-a-dsn"))
}
