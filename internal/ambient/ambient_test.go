package ambient

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

func TestFrom_OutsideScope(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Error("expected no binding outside Run")
	}
	if id := RequestID(context.Background()); id != "" {
		t.Errorf("RequestID() = %q, want empty", id)
	}
}

func TestRun_BindsContext(t *testing.T) {
	ec := domain.NewContext("req-1", nil, nil, nil)

	err := Run(context.Background(), ec, func(ctx context.Context) error {
		got, ok := From(ctx)
		if !ok {
			t.Fatal("expected binding inside Run")
		}
		if got != ec {
			t.Error("bound context is not the one passed to Run")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_PropagatesError(t *testing.T) {
	want := fmt.Errorf("boom")
	err := Run(context.Background(), domain.NewContext("", nil, nil, nil), func(context.Context) error {
		return want
	})
	if err != want {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}

// nested descends depth levels, each level hopping to a new goroutine,
// and checks the bound id at every level.
func nested(ctx context.Context, depth int, want string, mismatches chan<- string) {
	if got := RequestID(ctx); got != want {
		mismatches <- fmt.Sprintf("depth %d: got %q want %q", depth, got, want)
	}
	if depth == 0 {
		return
	}
	time.Sleep(time.Microsecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		nested(ctx, depth-1, want, mismatches)
	}()
	<-done
}

func TestRun_ConcurrentIsolation(t *testing.T) {
	const runs = 64
	mismatches := make(chan string, runs*10)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			ec := domain.NewContext(id, nil, nil, nil)
			_ = Run(context.Background(), ec, func(ctx context.Context) error {
				nested(ctx, 5, id, mismatches)
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(mismatches)

	for m := range mismatches {
		t.Error(m)
	}
}

func TestMustFrom(t *testing.T) {
	ec := domain.NewContext("req-must", nil, nil, nil)
	if got := MustFrom(Bind(context.Background(), ec)); got != ec {
		t.Errorf("MustFrom() = %v, want bound context", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustFrom outside a scope should panic")
		}
	}()
	MustFrom(context.Background())
}
