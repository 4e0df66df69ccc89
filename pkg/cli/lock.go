package cli

import (
	"fmt"
	"os"
)

// serveLockPath marks that a `serve` process is running, so `storage
// activate` can refuse to run concurrently with it.
const serveLockPath = "repub.lock"

// acquireServeLock creates the lock file for the lifetime of `serve`,
// refusing to start if one is already present.
func acquireServeLock() (release func(), err error) {
	if _, err := os.Stat(serveLockPath); err == nil {
		return nil, fmt.Errorf("%s already exists: another repub process appears to be running", serveLockPath)
	}
	f, err := os.OpenFile(serveLockPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire serve lock: %w", err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(serveLockPath) }, nil
}

// serverAppearsRunning reports whether the serve lock file is present.
func serverAppearsRunning() bool {
	_, err := os.Stat(serveLockPath)
	return err == nil
}
