package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(Options{Level: "info", Environment: "production", Output: &buf})
	defer closer.Close()

	l.Info("dispatched", UserID("u-1"), Err(errors.New("x")))
	l.Debug("hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "dispatched", record["msg"])
	assert.Equal(t, "u-1", record["user_id"])
	assert.Equal(t, "x", record["error"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_DevelopmentWritesText(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{Level: "debug", Output: &buf})

	l.Debug("hello", Channel("push"))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "channel=push")
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	var buf bytes.Buffer
	l, closer := New(Options{Format: "json", File: path, Output: &buf})

	l.Warn("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, buf.String(), "to file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestContextRoundTrip(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	assert.Same(t, slog.Default(), OrDefault(nil))
}
