package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below Debug. chainguard logs dispatch
// arguments and debounce timer activity at this level.
const TraceLevel = zapcore.DebugLevel - 1

const traceName = "trace"

// LevelFromString parses a level name, accepting "trace" in addition to
// the zap names. Unknown names return InfoLevel and an error.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == traceName {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// LevelName returns the lowercase name of l, "trace" included.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return traceName
	}
	return l.String()
}

// encodeLevel writes level names the way LevelFromString reads them.
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(LevelName(l))
}
