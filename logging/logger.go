package logging

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "GLOG"

var (
	logout = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		// Format the node ID
		FormatPrepare: func(e map[string]interface{}) error {
			e["nodeID"] = fmt.Sprintf("[%s]", e["nodeID"])
			return nil
		},
		// Change the order in which things appear
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"nodeID",
			zerolog.MessageFieldName,
		},
		// Prevent the nodeID from being printed again
		FieldsExclude: []string{"nodeID"},
	}
)

// Level returns the level selected through the GLOG environment variable.
// Defaults to info.
func Level() zerolog.Level {
	switch os.Getenv(EnvLogLevel) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "no":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns a formatted logger using the given node id
func GetLogger(id int64) zerolog.Logger {
	return zerolog.New(logout).
		Level(Level()).
		With().
		Timestamp().
		Str("nodeID", strconv.FormatInt(id, 10)).
		Logger()
}

// GetComponentLogger returns the node logger tagged with a component name
func GetComponentLogger(id int64, component string) zerolog.Logger {
	return GetLogger(id).With().Str("component", component).Logger()
}
