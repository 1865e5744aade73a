package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	l := New()
	require.NotNil(t, l)
	assert.NotNil(t, l.Logger)
}

func TestWithFieldsAttachesAttrs(t *testing.T) {
	l := Discard()
	child := l.WithFields("bucket", "b1", "key", "k1")
	require.NotNil(t, child)
	assert.NotSame(t, l.Logger, child.Logger)
}

func TestWithLogFileFansOut(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cybs3-log-*.log")
	require.NoError(t, err)
	defer f.Close()

	l := New(WithLogFile(f), WithFormat("json"))
	l.Info("hello", "k", "v")
}
