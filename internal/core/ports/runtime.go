package ports

import (
	"context"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

// ConfigResolver resolves the merged pipeline configuration of a tenant.
// Implementations: file-based (default).
type ConfigResolver interface {
	Resolve(ctx context.Context, tenantID string) (*domain.PipelineConfig, error)
}

// ConditionEvaluator decides whether a configured element is included.
// Implementations must be fail-closed: any uncertainty yields false.
type ConditionEvaluator interface {
	Evaluate(expression string, ec *domain.Context) bool
}
