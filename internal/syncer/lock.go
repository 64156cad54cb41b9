package syncer

import (
	"errors"
	"time"
)

var ErrSyncBusy = errors.New("sync already in progress")
var syncLock = make(chan struct{}, 1)

// Acquire takes the process-wide sync lock, waiting at most timeout.
func Acquire(timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case syncLock <- struct{}{}:
		return func() { <-syncLock }, nil
	case <-timer.C:
		return nil, ErrSyncBusy
	}
}
