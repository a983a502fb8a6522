package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/tableport/tableport/internal/config"
)

type ctxKey string

const transferIDKey ctxKey = "transfer_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(slog.String("app", "tableport"))
}

func ContextWithTransferID(ctx context.Context, transferID string) context.Context {
	return context.WithValue(ctx, transferIDKey, transferID)
}

func TransferIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(transferIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
