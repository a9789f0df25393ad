// Package tempfiles tracks the scratch files a single ccwrap
// invocation creates (a preprocessed-output copy, a dependency file it
// generated itself, a stderr capture) so they can be removed on normal
// return and, just as importantly, on SIGINT/SIGTERM: a killed process
// must not leak its temp files.
package tempfiles

import (
	"os"
	gosignal "os/signal"
	"sync"
	"syscall"
)

// Registry records temp file paths for cleanup. Safe for concurrent
// use since a signal handler and the main goroutine may both touch it.
type Registry struct {
	mu    sync.Mutex
	paths []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Add records path for later removal and returns it unchanged, so
// callers can write r.Add(path) inline at the point a temp file is
// created.
func (r *Registry) Add(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return path
}

// Cleanup removes every recorded path, best-effort: a file already
// gone (e.g. renamed into the cache on a hit) is not an error.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	paths := append([]string(nil), r.paths...)
	r.paths = nil
	r.mu.Unlock()

	for _, p := range paths {
		os.Remove(p)
	}
}

// TrapSignals arranges for r.Cleanup to run before the process exits
// on SIGINT or SIGTERM. Returns a function that stops the trap, for
// use in tests and in the short-lived management subcommands that
// don't need it.
func (r *Registry) TrapSignals() (stop func()) {
	c := make(chan os.Signal, 1)
	gosignal.Notify(c, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case sig, ok := <-c:
			if !ok {
				return
			}
			r.Cleanup()
			if s, ok := sig.(syscall.Signal); ok {
				os.Exit(128 + int(s))
			}
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		stopOnce.Do(func() { close(done) })
		gosignal.Stop(c)
	}
}
