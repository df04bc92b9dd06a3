package steps

import (
	"context"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// SetResponse sets the response to the value option. Without a value it
// echoes the request body.
type SetResponse struct {
	value any
}

// NewSetResponse creates a setResponse step.
func NewSetResponse() *SetResponse {
	return &SetResponse{}
}

func (s *SetResponse) Name() string { return SetResponseName }

func (s *SetResponse) SetOptions(opts map[string]any) error {
	s.value = opts["value"]
	return nil
}

func (s *SetResponse) Execute(_ context.Context, ec *domain.Context) error {
	if s.value != nil {
		ec.SetResponse(s.value)
		return nil
	}
	ec.SetResponse(ec.Body())
	return nil
}

var _ ports.OptionsAware = (*SetResponse)(nil)
