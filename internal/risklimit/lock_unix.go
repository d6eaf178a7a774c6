//go:build unix

package risklimit

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockRegionBytes is padded into the lock file so a byte-range lock has a
// region to cover even on platforms where that matters; Unix flock here
// locks the whole descriptor, but the padding keeps the file format
// consistent with the Windows lock-region convention.
const lockRegionBytes = 1024

// fileLock is a held OS-level advisory lock plus the descriptor it guards.
type fileLock struct {
	fd int
}

// acquireFileLock opens lockPath refusing to follow a symlink, verifies
// the opened descriptor still points at the path it was given (closing the
// TOCTOU window where the path is swapped for a symlink between open and
// the first stat), pads it to lockRegionBytes, and takes an exclusive
// flock. The caller must call release() exactly once.
func acquireFileLock(lockPath string) (*fileLock, error) {
	fd, err := unix.Open(lockPath, unix.O_RDWR|unix.O_CREAT|unix.O_NOFOLLOW, 0o600)
	if err != nil {
		if lst, lerr := os.Lstat(lockPath); lerr == nil && lst.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("risklimit: cache lock path %q must not be a symlink", lockPath)
		}
		return nil, fmt.Errorf("risklimit: open lock file %q: %w", lockPath, err)
	}

	pathStat, err := os.Lstat(lockPath)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("risklimit: lstat lock file %q: %w", lockPath, err)
	}
	if pathStat.Mode()&os.ModeSymlink != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("risklimit: cache lock path %q must not be a symlink", lockPath)
	}

	var fdStat unix.Stat_t
	if err := unix.Fstat(fd, &fdStat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("risklimit: fstat lock file %q: %w", lockPath, err)
	}
	pathSys, ok := pathStat.Sys().(*unix.Stat_t)
	if !ok || pathSys.Dev != fdStat.Dev || pathSys.Ino != fdStat.Ino {
		unix.Close(fd)
		return nil, fmt.Errorf("risklimit: cache lock path %q changed during open", lockPath)
	}

	if fdStat.Size < lockRegionBytes {
		if err := unix.Ftruncate(fd, lockRegionBytes); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("risklimit: pad lock file %q: %w", lockPath, err)
		}
	}

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("risklimit: flock %q: %w", lockPath, err)
	}

	return &fileLock{fd: fd}, nil
}

func (l *fileLock) release() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		unix.Close(l.fd)
		return fmt.Errorf("risklimit: unlock: %w", err)
	}
	return unix.Close(l.fd)
}
