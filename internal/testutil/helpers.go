// Package testutil holds helpers for tests that need a real kernel.
package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test unless LINKUP_VM_TEST is set and the process runs
// as root. Such tests create links and namespaces.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("LINKUP_VM_TEST") == "" {
		t.Skip("Skipping test: requires LINKUP_VM_TEST environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
