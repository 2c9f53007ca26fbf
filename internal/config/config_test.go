package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "./data/app.db",
		},
		Buttondown: ButtondownConfig{
			InitialSyncLookbackDays: 30,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 5,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"mysql without host", func(c *Config) {
			c.Database.Driver = DriverMySQL
			c.Database.User = "root"
			c.Database.DBName = "engagement"
		}},
		{"zero lookback", func(c *Config) { c.Buttondown.InitialSyncLookbackDays = 0 }},
		{"scheduler without api key", func(c *Config) { c.Scheduler.Enabled = true }},
		{"scheduler without interval", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.IntervalMinutes = 0
			c.Buttondown.APIKey = "key"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   DriverMySQL,
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=UTC"
	assert.Equal(t, expected, cfg.GetDSN())

	cfg.Driver = DriverPostgres
	cfg.Port = 5432
	cfg.SSLMode = "disable"
	assert.Equal(t, "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable TimeZone=UTC", cfg.GetDSN())

	cfg = DatabaseConfig{Driver: DriverSQLite, Path: "/tmp/app.db"}
	assert.Equal(t, "/tmp/app.db", cfg.GetDSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BUTTONDOWN_API_KEY", "secret-key")
	t.Setenv("BUTTONDOWN_INITIAL_SYNC_LOOKBACK_DAYS", "7")
	t.Setenv("DB_PATH", "/tmp/engagement.db")

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Buttondown.APIKey)
	assert.Equal(t, 7, cfg.Buttondown.InitialSyncLookbackDays)
	assert.Equal(t, "/tmp/engagement.db", cfg.Database.Path)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "https://api.buttondown.com/v1", cfg.Buttondown.APIBaseURL)
}
