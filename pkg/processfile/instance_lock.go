package processfile

import (
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

// InstanceLock is held for as long as one supervisor manages a server ID
type InstanceLock struct {
	lock   *flock.Flock
	id     string
	logger logging.Logger
}

func (m *ProcessFileManager) LockFilePath(id string) string {
	return filepath.Join(filepath.Dir(m.PIDFilePath(id)), id+".lock")
}

// AcquireInstanceLock fails with AlreadyRunning when another supervisor
// holds the lock for id.
func (m *ProcessFileManager) AcquireInstanceLock(id string) (*InstanceLock, error) {
	lockFilePath := m.LockFilePath(id)

	if err := ValidateDirectory(lockFilePath); err != nil {
		return nil, errors.NewIOError("lock file directory validation failed", err).WithContext("lock_file", lockFilePath)
	}

	lock := flock.New(lockFilePath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.NewIOError("failed to lock instance file", err).WithContext("lock_file", lockFilePath)
	}
	if !locked {
		return nil, errors.NewAlreadyRunningError("another supervisor manages this server", nil).
			WithContext("id", id).
			WithContext("lock_file", lockFilePath)
	}

	m.logger.Debugf("Instance lock acquired, id: %s, path: %s", id, lockFilePath)
	return &InstanceLock{lock: lock, id: id, logger: m.logger}, nil
}

func (l *InstanceLock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return errors.NewIOError("failed to release instance lock", err).WithContext("lock_file", l.lock.Path())
	}
	l.logger.Debugf("Instance lock released, id: %s", l.id)
	return nil
}
