package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func parse(t *testing.T, flags []cli.Flag, args ...string) (*Config, error) {
	t.Helper()
	var got *Config
	app := &cli.App{
		Name:      "test",
		Flags:     flags,
		Writer:    io.Discard,
		ErrWriter: io.Discard,
		Action: func(c *cli.Context) error {
			cfg, err := FromCLI(c)
			got = cfg
			return err
		},
	}
	err := app.Run(append([]string{"test"}, args...))
	return got, err
}

func TestFromCLI(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(file, []byte("host: filehost\nevent_port: 13000\n"), 0o600))

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, Default(), c)
			},
		},
		{
			name: "flags override defaults",
			args: []string{"--host", "sim01", "--event-port", "12000", "--stream-port", "12001", "--register-timeout", "-1s", "--simdt", "0.2", "--fallback-route", "", "--log-dev"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "tcp://sim01:12000", c.EventEndpoint())
				assert.Equal(t, "tcp://sim01:12001", c.StreamEndpoint())
				assert.Equal(t, -time.Second, c.RegisterTimeout)
				assert.Equal(t, 0.2, c.SimDT)
				assert.True(t, c.Fallback().Empty())
				assert.True(t, c.LogDevelopment)
			},
		},
		{
			name: "file then flags",
			args: []string{"--config", file, "--event-port", "14000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "filehost", c.Host)
				assert.Equal(t, 14000, c.EventPort, "set flag wins over file")
			},
		},
		{
			name: "unset flag keeps file value",
			args: []string{"-c", file},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 13000, c.EventPort)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parse(t, NodeFlags(), tt.args...)
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestFromCLIEnvironment(t *testing.T) {
	t.Setenv("SIMNODE_EVENT_PORT", "15000")
	t.Setenv("SIMNODE_STALE_AFTER", "5s")

	c, err := parse(t, CoordinatorFlags())
	require.NoError(t, err)
	assert.Equal(t, 15000, c.EventPort)
	assert.Equal(t, 5*time.Second, c.StaleAfter)
}

func TestFromCLIInvalid(t *testing.T) {
	_, err := parse(t, NodeFlags(), "--stream-port", "10000")
	assert.ErrorContains(t, err, "both 10000")

	_, err = parse(t, NodeFlags(), "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestEnvVars(t *testing.T) {
	assert.Equal(t, []string{"SIMNODE_REGISTER_TIMEOUT"}, envVars(FlagRegisterTimeout))
	assert.Equal(t, []string{"SIMNODE_CONFIG"}, envVars(FlagConfig))
}
