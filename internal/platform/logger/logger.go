package logger

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	dErrors "sweeper/pkg/domain-errors"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a structured logger writing to w. Status lines of a sweep go to
// stdout; the logger is meant for stderr so the two never interleave in a pipe.
func New(w io.Writer, level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "log_level is invalid")
	}

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	switch format {
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(config)
	case FormatConsole, "":
		encoder = zapcore.NewConsoleEncoder(config)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "log_format must be one of [console json]")
	}

	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), lvl)), nil
}
