package supervisor

import "time"

// Observer receives lifecycle events, e.g. for metrics
type Observer interface {
	ProcessStarted(id string, pid int)
	SpawnFailed(id string, err error)
	ProcessExited(report ExitReport)
	StopCompleted(id string, duration time.Duration, forced bool)
}

type nopObserver struct{}

func (nopObserver) ProcessStarted(id string, pid int)                            {}
func (nopObserver) SpawnFailed(id string, err error)                             {}
func (nopObserver) ProcessExited(report ExitReport)                              {}
func (nopObserver) StopCompleted(id string, duration time.Duration, forced bool) {}
