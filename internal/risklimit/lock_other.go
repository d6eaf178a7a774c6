//go:build !unix

package risklimit

import "github.com/rs/zerolog/log"

// fileLock is a no-op placeholder on non-Unix platforms. The in-process
// lockRegistry still serializes access within one process; there is no
// cross-process guard here. Production deployments of this store are
// Linux containers, so this gap is accepted rather than worked around with
// a second, weaker locking primitive.
type fileLock struct{}

func acquireFileLock(lockPath string) (*fileLock, error) {
	log.Warn().Str("path", lockPath).Msg("cross-process cache locking unavailable on this platform, relying on in-process lock only")
	return &fileLock{}, nil
}

func (l *fileLock) release() error {
	return nil
}
