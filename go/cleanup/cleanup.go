// Package cleanup provides graceful shutdown for long-running processes.
//
// Functions registered via AtExit are run when the process receives SIGINT
// or SIGTERM. Periodic work started via Repeat is stopped before the AtExit
// functions run.
package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.skia.org/cif/go/sklog"
)

var (
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mtx      sync.Mutex
	atExit   []func()
	watching bool
)

func init() {
	ctx, cancel = context.WithCancel(context.Background())
}

// AtExit registers a function to run when the process receives SIGINT or
// SIGTERM. The first registration starts the signal watcher; when a signal
// arrives, Repeat tick functions are cancelled and waited for, then the
// registered functions run in registration order and the process exits.
func AtExit(fn func()) {
	mtx.Lock()
	defer mtx.Unlock()
	atExit = append(atExit, fn)
	if !watching {
		watching = true
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			sklog.Warningf("Caught %s", sig)
			Cleanup()
			sklog.Flush()
			os.Exit(0)
		}()
	}
}

// Repeat runs the tick function immediately and then at the given frequency
// until Cleanup is called. The optional cleanup function is run after
// waiting for an in-progress tick to finish.
func Repeat(tickFrequency time.Duration, tick, cleanup func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tickFrequency)
		defer ticker.Stop()
		tick()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-ctx.Done():
				if cleanup != nil {
					cleanup()
				}
				return
			}
		}
	}()
}

// Cleanup cancels all tick functions registered via Repeat, waits for them
// to stop, then runs the AtExit functions.
func Cleanup() {
	sklog.Warningf("Shutdown request received")
	cancel()
	wg.Wait()
	mtx.Lock()
	fns := atExit
	atExit = nil
	mtx.Unlock()
	for _, fn := range fns {
		fn()
	}
	sklog.Warningf("Finished clean shutdown procedure.")
}
