package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

const (
	defaultTokenModel = "gpt-4o"

	// TokenCountKey is the meta key the token count is stored under.
	TokenCountKey = "tokenCount"
)

// Codecs are immutable once built, so one per encoding is shared.
var (
	codecMu    sync.RWMutex
	codecCache = make(map[tokenizer.Encoding]tokenizer.Codec)
)

// TokenCount counts the tokens of the request body text and stores the
// result in meta under TokenCountKey.
//
// Options: field (a body field to count instead of every string value),
// model (tokenizer model, default gpt-4o), max (fail above this count).
type TokenCount struct {
	model string
	field string
	max   int
}

// NewTokenCount creates a tokenCount step using model unless overridden.
func NewTokenCount(model string) *TokenCount {
	if model == "" {
		model = defaultTokenModel
	}
	return &TokenCount{model: model}
}

func (s *TokenCount) Name() string { return TokenCountName }

func (s *TokenCount) DefaultConfig() ports.StepConfig {
	return ports.StepConfig{OnError: ports.OnErrorStop, Parallelizable: true}
}

func (s *TokenCount) SetOptions(opts map[string]any) error {
	if m, ok, err := stringOption(opts, "model"); err != nil {
		return err
	} else if ok && m != "" {
		s.model = m
	}
	f, _, err := stringOption(opts, "field")
	if err != nil {
		return err
	}
	s.field = f
	if n, ok, err := intOption(opts, "max"); err != nil {
		return err
	} else if ok {
		s.max = n
	}
	return nil
}

func (s *TokenCount) Execute(_ context.Context, ec *domain.Context) error {
	var text string
	if s.field != "" {
		v, ok := ec.Body()[s.field]
		if !ok {
			return fmt.Errorf("body field %q not found", s.field)
		}
		text = collectText(v)
	} else {
		text = collectText(ec.Body())
	}

	count, err := CountTokens(s.model, text)
	if err != nil {
		return err
	}
	ec.Meta.SetValue(TokenCountKey, count)

	if s.max > 0 && count > s.max {
		return fmt.Errorf("token count %d exceeds limit %d", count, s.max)
	}
	return nil
}

// CountTokens returns the number of tokens of text for model.
func CountTokens(model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	codec, err := codecFor(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return len(ids), nil
}

func codecFor(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	encoding := encodingFor(model)

	codecMu.RLock()
	if cached, ok := codecCache[encoding]; ok {
		codecMu.RUnlock()
		return cached, nil
	}
	codecMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	codecMu.Lock()
	codecCache[encoding] = codec
	codecMu.Unlock()
	return codec, nil
}

// encodingFor maps models unknown to the tokenizer to an encoding.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"), strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	}
	return tokenizer.O200kBase
}

// collectText joins every string found in v, walking maps in key order.
func collectText(v any) string {
	var b strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(t)
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		}
	}
	walk(v)
	return b.String()
}

var (
	_ ports.Configurable = (*TokenCount)(nil)
	_ ports.OptionsAware = (*TokenCount)(nil)
)
