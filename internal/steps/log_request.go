package steps

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// LogRequest writes one structured log line describing the request.
// Header values and body values are never logged, only their names.
type LogRequest struct {
	logger *slog.Logger
}

// NewLogRequest creates a logRequest step.
func NewLogRequest(logger *slog.Logger) *LogRequest {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRequest{logger: logger}
}

func (s *LogRequest) Name() string { return LogRequestName }

// DefaultConfig makes logging failures non-fatal.
func (s *LogRequest) DefaultConfig() ports.StepConfig {
	return ports.StepConfig{OnError: ports.OnErrorContinue}
}

func (s *LogRequest) Execute(ctx context.Context, ec *domain.Context) error {
	s.logger.InfoContext(ctx, "request received",
		slog.String("request_id", ec.RequestID),
		slog.String("tenant", ec.Meta.Tenant),
		slog.String("pipeline", ec.Meta.Pipeline),
		slog.Any("headers", sortedKeys(ec.Headers)),
		slog.Any("body_fields", sortedKeys(ec.Body())))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ ports.Configurable = (*LogRequest)(nil)
