// Package invariant provides the fatal-assertion helper used throughout
// this kernel for the "Fatal" error class in spec.md §7: detected
// invariant violations, magic mismatches, and other conditions that must
// never occur if the rest of the kernel is correct.
package invariant

import (
	"fmt"
	"os"

	"github.com/mlj-hub/pintosim/internal/logger"
)

// ExitOnViolation controls whether a failed Check calls os.Exit after
// logging, mirroring gcsfuse's cfg.Debug.ExitOnInvariantViolation flag.
// It defaults to false so library/test code panics (and tests can recover)
// rather than killing the test binary; internal/kernel sets it from
// cfg.Config at boot.
var ExitOnViolation = false

// Check panics (logging first) if cond is false. Use it only for
// kernel-internal contract violations that spec.md §7 classifies as
// fatal -- never for resource exhaustion or user-triggerable invalid
// input, which must be reported as ordinary errors instead.
func Check(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	logger.Errorf("invariant violated: %s", msg)
	if ExitOnViolation {
		os.Exit(1)
	}
	panic("invariant violated: " + msg)
}
