package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_BuildsUsableLogger(t *testing.T) {
	l := New(Config{Service: "qerrors", Environment: "test"})
	require := l
	assert.NotNil(t, require)
	l.Info("hello")
	l.Warn("careful")
	l.Sync()
}

func TestNop_DiscardsSilently(t *testing.T) {
	l := Nop()
	l.Emit(Debug, "should not panic", map[string]any{"password": "x"}, "req-1")
}

func TestEmit_SuppressesDebugWithoutVerbose(t *testing.T) {
	l := New(Config{Service: "svc", Environment: "test", Verbose: false})
	// Emit must not panic even though the DEBUG record is dropped.
	l.Emit(Debug, "hidden", nil, "")
	l.Sync()
}

func TestEmit_AllowsDebugWhenVerbose(t *testing.T) {
	l := New(Config{Service: "svc", Environment: "test", Verbose: true})
	l.Emit(Debug, "visible", nil, "")
	l.Sync()
}

func TestMemoryUsage_ReturnsNonZero(t *testing.T) {
	assert.Greater(t, memoryUsage(), uint64(0))
}
