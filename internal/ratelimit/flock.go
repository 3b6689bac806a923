package ratelimit

import (
	"path/filepath"

	"github.com/pi-runtime/agentteams/internal/util"
)

const lockFileName = "retry-rate-limit-state.lock"

// stateLock returns the cross-process lock guarding the shared gate state
// file in dir.
func stateLock(dir string) *util.FileLock {
	return util.NewFileLock(filepath.Join(dir, lockFileName))
}
