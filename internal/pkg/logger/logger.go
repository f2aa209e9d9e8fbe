package logger

import (
	"context"
	"io"
	"os"
	"time"

	appCtx "github.com/popforge/popup-service/internal/pkg/context"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "" {
		format = "console"
	}

	if format == "json" {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	// set global
	zlog.Logger = Logger
}

// WithCtx tags the logger with the request id when one is present.
func WithCtx(ctx context.Context) *zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		l := Logger.With().Str("request_id", rid).Logger()
		return &l
	}
	return &Logger
}
