package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "be-exp-approvals", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 9086, cfg.Server.GRPCPort)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	require.Len(t, cfg.Approval.Ladder, 4)
	assert.Equal(t, "100", cfg.Approval.Ladder[0].Max)
	assert.Equal(t, []string{"manager"}, cfg.Approval.Ladder[0].Roles)
	assert.Equal(t, "", cfg.Approval.Ladder[3].Max)
	assert.Equal(t, float64(48), cfg.Approval.RoleHours["director"])
	assert.False(t, cfg.Approval.DelegatesMayAct)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("APPROVALS_SERVER_PORT", "9999")
	t.Setenv("APPROVALS_STORAGE_DRIVER", "memory")
	t.Setenv("APPROVALS_APPROVAL_DELEGATES_MAY_ACT", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.True(t, cfg.Approval.DelegatesMayAct)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
service:
  environment: production
approval:
  representatives:
    manager:
      user_id: u-mgr
      name: Morgan
  ladder:
    - max: "500"
      roles: [manager]
    - max: ""
      roles: [manager, director]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Service.Environment)
	require.Len(t, cfg.Approval.Ladder, 2)
	assert.Equal(t, "500", cfg.Approval.Ladder[0].Max)
	assert.Equal(t, "u-mgr", cfg.Approval.Representatives["manager"].UserID)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("APPROVALS_STORAGE_DRIVER", "sqlite")
	_, err := Load("")
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "x", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/x?sslmode=disable", d.DSN())
}
