package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/cherry/internal/protocol"
)

func TestRootCmd_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["connect"])
	assert.True(t, names["version"])
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "cherry "+protocol.VersionTxt)
	assert.Contains(t, out.String(), "pyrit")
}

func TestServeCmd_Flags(t *testing.T) {
	f := serveCmd.Flags()
	for name := range serveFlagPaths {
		assert.NotNil(t, f.Lookup(name), name)
	}
	assert.Equal(t, "r", f.Lookup("capturefile").Shorthand)
	assert.Equal(t, "9005", f.Lookup("port").DefValue)
}

func TestConnectCmd_Flags(t *testing.T) {
	f := connectCmd.Flags()
	for name := range connectFlagPaths {
		assert.NotNil(t, f.Lookup(name), name)
	}
	assert.Equal(t, "pyrit", f.Lookup("cracking-tool").DefValue)
	assert.Contains(t, f.Lookup("cracking-tool").Usage, "hashcat")
}

func TestLoadConfig_OnlyChangedFlagsOverride(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Int("port", 9005, "")
	f.String("secret", "", "")
	f.Int("max-clients", 0, "")
	require.NoError(t, f.Parse([]string{"--port", "9100", "--secret", "s3cret"}))

	cfg, err := loadConfig(f, serveFlagPaths)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Master.Port)
	assert.Equal(t, "s3cret", cfg.Master.Secret)
	assert.Equal(t, 0, cfg.Master.MaxClients)
	assert.Equal(t, 9006, cfg.Master.FilePort)
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cherry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  master_ip: 10.0.0.1 // 集群 master
  tool:
    name: hashcat
    path: /opt/hashcat
`), 0o644))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Int64("speed", 0, "")
	f.Bool("async", false, "")
	require.NoError(t, f.Parse([]string{"--speed", "120000", "--async"}))

	cfg, err := loadConfig(f, connectFlagPaths)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Worker.MasterIP)
	assert.Equal(t, "hashcat", cfg.Worker.Tool.Name)
	assert.Equal(t, "/opt/hashcat", cfg.Worker.Tool.Path)
	assert.Equal(t, int64(120000), cfg.Worker.Tool.Speed)
	assert.True(t, cfg.Worker.Async)
}

func TestLoadConfig_ToolPathDefaultsToName(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.StringP("cracking-tool", "t", "pyrit", "")
	f.String("tool-path", "", "")
	require.NoError(t, f.Parse([]string{"-t", "hashcat"}))

	cfg, err := loadConfig(f, connectFlagPaths)
	require.NoError(t, err)
	assert.Equal(t, "hashcat", cfg.Worker.Tool.Path)
}

func TestLoadConfig_DebugAndFormat(t *testing.T) {
	debug, logFormat = true, "json"
	t.Cleanup(func() { debug, logFormat = false, "" })

	cfg, err := loadConfig(pflag.NewFlagSet("test", pflag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })

	_, err := loadConfig(pflag.NewFlagSet("test", pflag.ContinueOnError), nil)
	assert.Error(t, err)
}
