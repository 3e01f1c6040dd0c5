package shutdown

import (
	"context"
	"os"
	"strings"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/process"
)

type signalHook struct {
	signal os.Signal
	logger logging.Logger
}

// NewSignalHook delivers sig to the server process itself (not its group)
func NewSignalHook(sig os.Signal, logger logging.Logger) Hook {
	return &signalHook{signal: sig, logger: logger}
}

func (h *signalHook) Name() string {
	return "signal:" + h.signal.String()
}

func (h *signalHook) Run(ctx context.Context, target Target) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("signal hook cancelled", err)
	}
	h.logger.Infof("Sending shutdown signal, id: %s, pid: %d, signal: %s", target.ID, target.PID, h.signal)
	return process.SignalProcess(target.PID, h.signal)
}

// ParseSignal resolves names like "SIGHUP", "hup" or "USR1"
func ParseSignal(name string) (os.Signal, error) {
	key := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	if sig, ok := signalsByName[key]; ok {
		return sig, nil
	}
	return nil, errors.NewValidationError("unsupported signal: "+name, nil)
}
