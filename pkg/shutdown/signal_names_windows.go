//go:build windows

package shutdown

import "os"

var signalsByName = map[string]os.Signal{
	"KILL": os.Kill,
}
