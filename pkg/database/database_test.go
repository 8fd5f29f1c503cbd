package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, "./data/supportchat.db", config.DatabasePath)
	assert.Equal(t, 4, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.WriteTimeout)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestMigrationManager_AppliesEmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	validator := NewSchemaValidator(db)
	assert.Error(t, validator.ValidateTablesExist(), "empty database has no tables")

	require.NoError(t, mgr.ApplyMigrations())
	require.NoError(t, validator.Validate())

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, versions)
}

func TestMigrationManager_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	require.NoError(t, mgr.ApplyMigrations())
	require.NoError(t, mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/002_add_b.sql": {Data: []byte("CREATE TABLE b (id TEXT, a_id TEXT REFERENCES a(id));")},
		"m/001_add_a.sql": {Data: []byte("CREATE TABLE a (id TEXT PRIMARY KEY);")},
		"m/README.md":     {Data: []byte("ignored")},
	}
	mgr := NewMigrationManagerFS(db, fsys, "m")

	require.NoError(t, mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	migrations, err := mgr.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "add_a", migrations[0].Description)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte("CREATE TABLE (;")},
	}
	mgr := NewMigrationManagerFS(db, fsys, "m")

	assert.Error(t, mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestSchemaValidator_DetectsMissingColumn(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE sessions (id TEXT PRIMARY KEY);
		CREATE TABLE messages (id TEXT PRIMARY KEY);
		CREATE TABLE schema_migrations (version TEXT PRIMARY KEY);
	`)
	require.NoError(t, err)

	validator := NewSchemaValidator(db)
	require.NoError(t, validator.ValidateTablesExist())

	err = validator.ValidateTableStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions table structure invalid")
}
