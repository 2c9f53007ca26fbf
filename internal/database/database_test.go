package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/model"
)

func TestInitDatabaseSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")

	db, err := InitDatabase(config.DatabaseConfig{Driver: config.DriverSQLite, Path: path})
	require.NoError(t, err)

	for _, table := range []any{&model.Subscriber{}, &model.Event{}, &model.SyncState{}, &model.Tag{}, &model.SubscriberTag{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
	assert.True(t, db.Migrator().HasIndex(&model.Subscriber{}, "idx_status_created"))
	assert.True(t, db.Migrator().HasIndex(&model.SubscriberTag{}, "idx_subscriber_tag"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
