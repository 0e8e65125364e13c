// Package debug provides env-gated diagnostic logging for the sync core.
// Output goes to stderr and is off unless AZDEV_DEBUG is set or verbose
// mode is enabled at startup.
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("AZDEV_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	mu          sync.Mutex
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet suppresses non-essential output.
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes a timestamped debug line to stderr when enabled.
func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "%s "+format+"\n",
		append([]interface{}{time.Now().Format("15:04:05.000")}, args...)...)
}

// PrintNormal prints one output line unless quiet mode is enabled. Use for
// normal informational output that should be suppressed in quiet mode.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format+"\n", args...)
	}
}
