package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nicofx/widu-factory/pkg/engine"
)

type failStep struct{}

func (failStep) Name() string { return "fail" }

func (failStep) Execute(context.Context, *engine.Context) error {
	return errors.New("boom")
}

func TestEmbedding(t *testing.T) {
	dir := t.TempDir()
	doc := `{"phases": ["main"], "main": {"steps": [{"name": "fail", "configOverride": {"onError": "stop"}}, "setResponse"]}}`
	if err := os.WriteFile(filepath.Join(dir, "default.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	rt, err := engine.New(
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithConfigDir(dir, 0),
		engine.WithSteps(engine.StepFactory{Name: "fail", Create: func() engine.Step { return failStep{} }}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer rt.Shutdown(context.Background())

	ec, err := rt.Handle(context.Background(), engine.Request{})
	if !engine.IsAborted(err) {
		t.Fatalf("Handle() error = %v, want abort", err)
	}
	if ec.Response() != nil {
		t.Errorf("setResponse should not run after an abort, response = %v", ec.Response())
	}
}
