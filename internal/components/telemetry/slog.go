package telemetry

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAPI implements API on top of a slog.Logger, the zero value logs to slog.Default().
type SlogAPI struct {
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// attrs logs errors under "err" and every other param under its position.
func attrs(id string, params []any) []any {
	out := make([]any, 0, 2+len(params)*2)
	if id != "" {
		out = append(out, "id", id)
	}
	for i, p := range params {
		if err, ok := p.(error); ok && err != nil {
			out = append(out, "err", err.Error())
			continue
		}
		out = append(out, fmt.Sprintf("p%d", i), p)
	}
	return out
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.logger().Log(context.Background(), slog.LevelError, "broken", attrs(id, params)...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.logger().Log(context.Background(), slog.LevelWarn, "warning", attrs(id, params)...)
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	s.logger().Log(context.Background(), slog.LevelDebug, msg, attrs("", params)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger().Log(context.Background(), slog.LevelInfo, "count", "id", id, "n", count)
}
