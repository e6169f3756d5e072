package logger

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
)

func TestNew_FiltersByLevel(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{level: "debug", wantDebug: true, wantInfo: true, wantWarn: true},
		{level: "info", wantInfo: true, wantWarn: true},
		{level: "WARN", wantWarn: true},
		{level: "error"},
		{level: "nonsense", wantInfo: true, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Service: "bidbeacon", Version: "test", Level: tt.level, Output: &buf})

			level.Debug(logger).Log("msg", "debug-line")
			level.Info(logger).Log("msg", "info-line")
			level.Warn(logger).Log("msg", "warn-line")
			level.Error(logger).Log("msg", "error-line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug-line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info-line")))
			assert.Equal(t, tt.wantWarn, bytes.Contains(buf.Bytes(), []byte("warn-line")))
			assert.Contains(t, out, "error-line")
			assert.Contains(t, out, "service=bidbeacon")
		})
	}
}
