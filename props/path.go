package props

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// expandPath replaces a leading "~" with the user's home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "expanding ~")
	}
	return filepath.Join(home, path[1:]), nil
}
