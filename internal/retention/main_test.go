//go:build !integration

// Container-backed tests leave docker client goroutines behind, so leak
// checking only runs in the unit build.

package retention

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
