package steps

import (
	"context"
	"testing"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

func TestCountTokens(t *testing.T) {
	n, err := CountTokens("gpt-4o", "Hello, how are you today?")
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if n < 4 || n > 12 {
		t.Errorf("CountTokens() = %d, want a small positive count", n)
	}

	if n, _ := CountTokens("gpt-4o", ""); n != 0 {
		t.Errorf("empty text = %d tokens", n)
	}

	// Unknown models fall back to an encoding.
	if n, err := CountTokens("some-future-model", "hello world"); err != nil || n == 0 {
		t.Errorf("fallback = %d, %v", n, err)
	}
}

func TestTokenCount_StoresCount(t *testing.T) {
	s := NewTokenCount("")
	if err := s.SetOptions(nil); err != nil {
		t.Fatal(err)
	}
	ec := domain.NewContext("", map[string]any{
		"text":  "The quick brown fox jumps over the lazy dog.",
		"extra": []any{"more words here", 3},
	}, nil, nil)

	if err := s.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	v, ok := ec.Meta.Value(TokenCountKey)
	if !ok || v.(int) < 10 {
		t.Errorf("tokenCount = %v", v)
	}
	if !s.DefaultConfig().Parallelizable {
		t.Error("tokenCount should be parallelizable by default")
	}
}

func TestTokenCount_FieldAndLimit(t *testing.T) {
	s := NewTokenCount("gpt-4")
	if err := s.SetOptions(map[string]any{"field": "prompt", "max": float64(3)}); err != nil {
		t.Fatal(err)
	}

	ec := domain.NewContext("", map[string]any{"prompt": "one two three four five six seven"}, nil, nil)
	if err := s.Execute(context.Background(), ec); err == nil {
		t.Error("expected limit error")
	}
	if _, ok := ec.Meta.Value(TokenCountKey); !ok {
		t.Error("count must be stored even when over the limit")
	}

	ec = domain.NewContext("", map[string]any{"other": "x"}, nil, nil)
	if err := s.Execute(context.Background(), ec); err == nil {
		t.Error("expected error for missing field")
	}
}

func TestCollectText(t *testing.T) {
	got := collectText(map[string]any{
		"b": "second",
		"a": []any{"first", map[string]any{"z": "third"}},
		"n": 5,
	})
	if got != "first\nthird\nsecond" {
		t.Errorf("collectText() = %q", got)
	}
}
