//go:build !linux

package preflight

import (
	"errors"
	"os"
)

func fileLimit() (int, bool) { return 0, false }

func processLimit() (int, bool) { return 0, false }

func canExecute(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o111 == 0 {
		return errors.New("no execute bit")
	}
	return nil
}
