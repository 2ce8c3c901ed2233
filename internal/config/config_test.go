package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "congregate", cfg.AppName)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, MaxHierarchyDepth, cfg.Hierarchy.MaxDepth)
	assert.Equal(t, "__", cfg.Hierarchy.PathSeparator)
	assert.Equal(t, "memory", cfg.PathCache.Driver)
	assert.Equal(t, 5*time.Minute, cfg.PathCache.TTL)
	assert.Empty(t, cfg.DBLogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowQuery)
}

func TestFromViperBoundsDepth(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	v.Set("HIERARCHY_MAX_DEPTH", 12)
	assert.Equal(t, MaxHierarchyDepth, FromViper(v).Hierarchy.MaxDepth)

	v.Set("HIERARCHY_MAX_DEPTH", 3)
	assert.Equal(t, 3, FromViper(v).Hierarchy.MaxDepth)

	v.Set("HIERARCHY_MAX_DEPTH", 0)
	assert.Equal(t, MaxHierarchyDepth, FromViper(v).Hierarchy.MaxDepth)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("HIERARCHY_PATH_SEPARATOR", " / ")
	t.Setenv("PATH_CACHE", "none")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, " / ", cfg.Hierarchy.PathSeparator)
	assert.Equal(t, "none", cfg.PathCache.Driver)
}
