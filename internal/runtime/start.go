package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Run starts the executor in its own goroutine. The returned channel
// receives at most one error and is closed when the loop has finished.
func Run(ctx context.Context, e Executor) <-chan error {
	errc := make(chan error, 1)
	go run(ctx, e, errc)
	return errc
}

func run(ctx context.Context, e Executor, errc chan<- error) {
	defer close(errc)
	if err := e.Start(ctx); err != nil {
		errc <- fmt.Errorf("error starting loop: %w", err)
		return
	}

	var err error
	for err == nil {
		err = e.Execute(ctx)
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if ferr := e.Flush(ctx); ferr != nil || err != nil {
		errc <- ErrorRun{ErrExec: err, ErrFlush: ferr}
	}
}
