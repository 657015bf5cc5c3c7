package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/simnode/internal/protocol"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 10000, c.EventPort)
	assert.Equal(t, 10001, c.StreamPort)
	assert.Equal(t, 10*time.Second, c.RegisterTimeout)
	assert.Equal(t, 0.05, c.SimDT)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "*", c.FallbackRoute)
	assert.Equal(t, 30*time.Second, c.StaleAfter)
	assert.NoError(t, c.Validate())

	assert.Equal(t, "tcp://localhost:10000", c.EventEndpoint())
	assert.Equal(t, "tcp://localhost:10001", c.StreamEndpoint())
	assert.Equal(t, c, Default())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simnode.yaml")
	yaml := "host: 10.0.0.7\nevent_port: 11000\nregister_timeout: 2s\nsimdt: 0.1\nfallback_route: \"\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", c.Host)
	assert.Equal(t, 11000, c.EventPort)
	assert.Equal(t, 10001, c.StreamPort, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, c.RegisterTimeout)
	assert.Equal(t, 0.1, c.SimDT)
	assert.Equal(t, "tcp://10.0.0.7:11000", c.EventEndpoint())
	assert.True(t, c.Fallback().Empty())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SIMNODE_STREAM_PORT", "12001")
	t.Setenv("SIMNODE_LOG_LEVEL", "debug")
	t.Setenv("SIMNODE_REGISTER_TIMEOUT", "250ms")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12001, c.StreamPort)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 250*time.Millisecond, c.RegisterTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty host", func(c *Config) { c.Host = "" }, "host is empty"},
		{"port zero", func(c *Config) { c.EventPort = 0 }, "event_port 0 out of range"},
		{"port too high", func(c *Config) { c.StreamPort = 70000 }, "stream_port 70000 out of range"},
		{"same ports", func(c *Config) { c.StreamPort = c.EventPort }, "both 10000"},
		{"zero simdt", func(c *Config) { c.SimDT = 0 }, "simdt 0 must be positive"},
		{"negative stale", func(c *Config) { c.StaleAfter = -time.Second }, "stale_after -1s is negative"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		in   string
		want protocol.Route
	}{
		{"*", protocol.Broadcast()},
		{"", protocol.Route{}},
		{"hq, gui", protocol.Route{[]byte("hq"), []byte("gui")}},
		{" , ", protocol.Route{}},
	}
	for _, tt := range tests {
		c := &Config{FallbackRoute: tt.in}
		assert.True(t, tt.want.Equal(c.Fallback()), "%q gave %s", tt.in, c.Fallback())
	}
}

func TestEndpointIPv6(t *testing.T) {
	c := &Config{Host: "::1", EventPort: 10000}
	assert.Equal(t, "tcp://[::1]:10000", c.EventEndpoint())
}
