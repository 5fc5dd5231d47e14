package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Checks that the GLOG variable selects the expected level
func TestLogger_Level(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"error": zerolog.ErrorLevel,
		"warn":  zerolog.WarnLevel,
		"debug": zerolog.DebugLevel,
		"trace": zerolog.TraceLevel,
		"no":    zerolog.Disabled,
		"junk":  zerolog.InfoLevel,
	}
	for value, expected := range cases {
		t.Setenv(EnvLogLevel, value)
		require.Equal(t, expected, Level(), "GLOG=%q", value)
		require.Equal(t, expected, GetLogger(3).GetLevel())
	}
}
