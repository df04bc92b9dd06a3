package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// ErrMissingFields is wrapped by the error requireFields returns.
var ErrMissingFields = errors.New("missing required fields")

// RequireFields fails when any of the configured body fields is absent or
// null. Fields are dot-separated paths into nested objects.
//
// Options: fields (array of paths).
type RequireFields struct {
	fields []string
}

// NewRequireFields creates a requireFields step.
func NewRequireFields() *RequireFields {
	return &RequireFields{}
}

func (s *RequireFields) Name() string { return RequireFieldsName }

func (s *RequireFields) SetOptions(opts map[string]any) error {
	fields, err := stringListOption(opts, "fields")
	if err != nil {
		return err
	}
	s.fields = fields
	return nil
}

func (s *RequireFields) Execute(_ context.Context, ec *domain.Context) error {
	var missing []string
	for _, f := range s.fields {
		if lookup(ec.Body(), f) == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	return nil
}

// lookup resolves a dot-separated path in m, or nil.
func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

var _ ports.OptionsAware = (*RequireFields)(nil)
