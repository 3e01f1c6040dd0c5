//go:build windows

package supervisor

import "os"

// Windows processes end with an exit code only
func exitSignal(state *os.ProcessState) string {
	return ""
}
