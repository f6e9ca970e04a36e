package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/linemk/order-escrow/internal/lib/logger/handlers/slogpretty"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const serviceName = "order-escrow"

// SetupLogger создаёт логгер для окружения: цветной вывод только для local,
// в остальных окружениях JSON с именем сервиса и окружением в каждой записи.
// level из конфига ("debug", "info", "warn", "error") перекрывает уровень окружения.
func SetupLogger(env, level string) *slog.Logger {
	return setup(os.Stdout, env, level)
}

func setup(w io.Writer, env, level string) *slog.Logger {
	if env == EnvLocal {
		return setupPrettySlog(w, parseLevel(level, slog.LevelDebug))
	}

	fallback := slog.LevelInfo
	if env == EnvDev {
		fallback = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level, fallback)})
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}

// parseLevel: пустая или неизвестная строка даёт уровень окружения
func parseLevel(level string, fallback slog.Level) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return fallback
	}
	return l
}

func setupPrettySlog(w io.Writer, level slog.Level) *slog.Logger {
	color.NoColor = false

	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: level,
		},
	}

	handler := opts.NewPrettyHandler(w)
	return slog.New(handler)
}
