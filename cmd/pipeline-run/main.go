package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/pkg/config"
	"github.com/nicofx/widu-factory/internal/runtime"
	"github.com/nicofx/widu-factory/internal/telemetry"
)

// result is printed to stdout after the run.
type result struct {
	RequestID string               `json:"requestId"`
	Tenant    string               `json:"tenant"`
	Pipeline  string               `json:"pipeline"`
	Response  any                  `json:"response"`
	Errors    []domain.ErrorRecord `json:"errors"`
	Logs      []domain.StepLog     `json:"logs"`
	Aborted   string               `json:"aborted,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	requestPath := flag.String("request", "-", "request JSON file, - for stdin")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	code, err := run(*configPath, *requestPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	os.Exit(code)
}

// run executes one request and prints its result. It returns exit code 1
// when the pipeline aborted. Deferred cleanup has run by the time it returns.
func run(configPath, requestPath string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}
	// Logs go to stderr so stdout carries only the result.
	logger := telemetry.SetupLoggerTo(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Tracing {
		var opts []telemetry.TracerOption
		if cfg.Telemetry.TraceOutput == "" || cfg.Telemetry.TraceOutput == "stdout" {
			opts = append(opts, telemetry.WithTraceWriter(os.Stderr))
		}
		tracer, err := telemetry.InitTracer(cfg.Telemetry, logger, opts...)
		if err != nil {
			return 0, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	req, err := readRequest(requestPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read request: %w", err)
	}

	rt, err := runtime.New(append([]runtime.Option{runtime.WithLogger(logger)}, runtime.FromConfig(cfg, nil)...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	ec, runErr := rt.Handle(context.Background(), req)

	out := result{
		RequestID: ec.RequestID,
		Tenant:    ec.Meta.Tenant,
		Pipeline:  ec.Meta.Pipeline,
		Response:  ec.Response(),
		Errors:    ec.Errors(),
		Logs:      ec.Meta.Logs(),
	}
	if runErr != nil {
		out.Aborted = runErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("failed to write result: %w", err)
	}
	if runErr != nil {
		return 1, nil
	}
	return 0, nil
}

func readRequest(path string) (runtime.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return runtime.Request{}, err
		}
		defer f.Close()
		r = f
	}

	var req runtime.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return runtime.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
