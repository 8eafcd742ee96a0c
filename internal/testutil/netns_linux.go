//go:build linux

package testutil

import (
	"fmt"
	"os"
	"runtime"
	"testing"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NewNamespace creates a named network namespace that is deleted when the
// test ends, and returns a netlink handle bound to it.
func NewNamespace(t *testing.T) (string, *netlink.Handle) {
	t.Helper()
	name := fmt.Sprintf("linkup-test-%d", os.Getpid())

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		t.Fatalf("get current netns: %v", err)
	}
	defer orig.Close()

	// NewNamed also switches this thread into the new namespace.
	ns, err := netns.NewNamed(name)
	if err != nil {
		t.Fatalf("create netns %s: %v", name, err)
	}
	if err := netns.Set(orig); err != nil {
		t.Fatalf("restore netns: %v", err)
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		netns.DeleteNamed(name)
		t.Fatalf("netlink handle in %s: %v", name, err)
	}

	t.Cleanup(func() {
		h.Close()
		ns.Close()
		if err := netns.DeleteNamed(name); err != nil {
			t.Logf("delete netns %s: %v", name, err)
		}
	})
	return name, h
}
