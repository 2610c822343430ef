package progress

import (
	"fmt"
	"os"
	"path/filepath"
)

// AcquireRunLock claims exclusive ownership of a working directory for the
// duration of one run. A second invocation against the same directory fails
// rather than risk corrupting the store. The returned release function
// removes the lock; a crashed run leaves it behind and the operator removes
// it by hand.
func AcquireRunLock(dir, runID string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(dir, "speakbook.lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("working directory %s is locked by another run (remove %s if that run is dead)", dir, path)
		}
		return nil, fmt.Errorf("create run lock: %w", err)
	}
	fmt.Fprintf(f, "pid=%d run=%s\n", os.Getpid(), runID)
	f.Close()

	return func() { os.Remove(path) }, nil
}
