package index

import (
	"fmt"

	"github.com/gofrs/flock"
)

// acquireLockForTest grabs the builder's lock file so tests can simulate a
// concurrent build.
func (b *Builder) acquireLockForTest() (func(), error) {
	lock := flock.New(b.cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("lock already held")
	}
	return func() { _ = lock.Unlock() }, nil
}
