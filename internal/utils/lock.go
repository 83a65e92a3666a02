package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrAlreadyRunning = errors.New("another instance holds the data directory lock")

// DataLock guards a data directory against concurrent processes writing the
// same database and category files.
type DataLock struct {
	lock *flock.Flock
}

func AcquireDataLock(dataPath string) (*DataLock, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(dataPath, "curator.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &DataLock{lock: lock}, nil
}

func (l *DataLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
