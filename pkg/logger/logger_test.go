package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftmsg.log")
	l, err := New(Config{Level: "debug", Encoding: "json", OutputPath: path, Service: "test"})
	require.NoError(t, err)

	l.Info("member became active")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"member became active"`)
	assert.Contains(t, string(data), `"service":"test"`)
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNamed_PrefersGivenLogger(t *testing.T) {
	l, err := New(DefaultConfig("x"))
	require.NoError(t, err)
	assert.Same(t, l, Named(l, "election"))
	assert.NotNil(t, Named(nil, "election"))
}
