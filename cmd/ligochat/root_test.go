package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a := newApp()
	t.Cleanup(a.close)

	var out bytes.Buffer
	root := a.rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	t.Setenv("LIGOCHAT_SERVER_PASSCODE", "secret")

	out, err := execute(t, "--server-url", "wss://chat.example.com/chat/ws/websocket", "--log-level", "off", "config")
	require.NoError(t, err)

	var settings map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, "wss://chat.example.com/chat/ws/websocket", settings["server"]["url"])
	assert.Equal(t, "********", settings["server"]["passcode"])
	assert.NotContains(t, out, "secret")
}

func TestInvalidServerURL(t *testing.T) {
	_, err := execute(t, "--server-url", "http://localhost:8080/chat", "--log-level", "off", "config")
	assert.ErrorContains(t, err, "scheme must be ws or wss")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	assert.Error(t, err)
}

func TestInteractiveCommandsLogToFile(t *testing.T) {
	root := newApp().rootCmd()

	tui, _, err := root.Find([]string{"tui"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("tmp", "ligochat.log"), logConfigFor(tui, pkglog.Config{}).File)
	assert.Equal(t, "chat.log", logConfigFor(tui, pkglog.Config{File: "chat.log"}).File)

	cfgCmd, _, err := root.Find([]string{"config"})
	require.NoError(t, err)
	assert.Empty(t, logConfigFor(cfgCmd, pkglog.Config{}).File)
}
