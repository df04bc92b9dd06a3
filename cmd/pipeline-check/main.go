package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nicofx/widu-factory/internal/pipeline"
	"github.com/nicofx/widu-factory/internal/steps"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pipeline-check <config-dir> [tenant...]")
		fmt.Fprintln(os.Stderr, "Validates the default pipeline configuration and every tenant override.")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := tenantconfig.NewResolver(flag.Arg(0), tenantconfig.WithLogger(quiet))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	reg, err := steps.NewRegistry(nil, steps.WithLogger(quiet))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	tenants := flag.Args()[1:]
	if len(tenants) == 0 {
		if tenants, err = resolver.Tenants(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		tenants = append([]string{tenantconfig.DefaultTenant}, tenants...)
	}

	failed := false
	for _, tenant := range tenants {
		cfg, err := resolver.Resolve(context.Background(), tenant)
		if err != nil {
			failed = true
			fmt.Printf("FAIL %s\n  %v\n", tenant, err)
			continue
		}
		findings := pipeline.Lint(cfg, reg)
		if len(findings) == 0 {
			fmt.Printf("ok   %s (%d phases)\n", tenant, len(cfg.Phases))
			continue
		}
		failed = true
		fmt.Printf("FAIL %s\n", tenant)
		for _, f := range findings {
			fmt.Printf("  %s\n", f)
		}
	}

	if failed {
		os.Exit(1)
	}
}
