package reminder

import (
	"testing"

	"go.uber.org/goleak"
)

// Reconcile fans out over goroutines; every pass must leave none behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
