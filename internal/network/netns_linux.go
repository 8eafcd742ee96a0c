//go:build linux

package network

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
)

// InNamespace runs fn on a thread switched into the named network namespace.
// Sockets fn creates stay in that namespace after it returns. An empty name
// runs fn directly.
func InNamespace(name string, fn func() error) error {
	if name == "" {
		return fn()
	}

	// Lock OS thread to ensure we don't switch namespaces on other goroutines
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origns, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get original netns: %w", err)
	}
	defer origns.Close()

	target, err := netns.GetFromName(name)
	if err != nil {
		return fmt.Errorf("failed to open netns %s: %w", name, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("failed to enter netns %s: %w", name, err)
	}
	fnErr := fn()

	if err := netns.Set(origns); err != nil {
		// The thread is stuck in the wrong namespace; keep it locked so the
		// runtime discards it.
		runtime.LockOSThread()
		return fmt.Errorf("failed to return to original ns: %w", err)
	}
	return fnErr
}
