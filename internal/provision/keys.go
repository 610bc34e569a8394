package provision

import (
	"fmt"
	"io/fs"
	"os"
)

var (
	ErrKeyMissing = fmt.Errorf("SSH private key file does not exist")
	ErrKeyMode    = fmt.Errorf("failed to fix SSH private key file mode")
)

// keyFileMode is what ssh demands of an identity file.
const keyFileMode fs.FileMode = 0o600

// EnsureKeyMode verifies the SSH private key exists and tightens its mode
// to 0600 if it is group- or world-accessible, so ssh does not refuse it.
func EnsureKeyMode(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrKeyMissing, path)
	}
	if err != nil {
		return fmt.Errorf("statting SSH key %s: %w", path, err)
	}
	if info.Mode().Perm() == keyFileMode {
		return nil
	}
	if err := os.Chmod(path, keyFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrKeyMode, err)
	}
	return nil
}
