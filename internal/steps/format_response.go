package steps

import (
	"context"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// Envelope is the response shape produced by formatResponse.
type Envelope struct {
	RequestID string               `json:"requestId"`
	Tenant    string               `json:"tenant,omitempty"`
	Status    string               `json:"status"`
	Data      any                  `json:"data,omitempty"`
	Errors    []domain.ErrorRecord `json:"errors,omitempty"`
}

// FormatResponse wraps whatever response earlier steps produced in an
// Envelope. Status is "ok" when no step error has been recorded.
type FormatResponse struct{}

// NewFormatResponse creates a formatResponse step.
func NewFormatResponse() *FormatResponse {
	return &FormatResponse{}
}

func (s *FormatResponse) Name() string { return FormatResponseName }

func (s *FormatResponse) DefaultConfig() ports.StepConfig {
	return ports.StepConfig{OnError: ports.OnErrorContinue}
}

func (s *FormatResponse) Execute(_ context.Context, ec *domain.Context) error {
	data := ec.Response()
	if env, ok := data.(*Envelope); ok {
		data = env.Data
	}

	env := &Envelope{
		RequestID: ec.RequestID,
		Tenant:    ec.Meta.Tenant,
		Status:    "ok",
		Data:      data,
		Errors:    ec.Errors(),
	}
	if len(env.Errors) > 0 {
		env.Status = "error"
	}
	ec.SetResponse(env)
	return nil
}

var _ ports.Configurable = (*FormatResponse)(nil)
