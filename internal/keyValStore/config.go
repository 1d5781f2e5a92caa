package keyValStore

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

func (sc *StoreConfig) checkConfig() error {
	if sc.InMemory {
		return nil
	}
	if sc.Path == "" {
		return errors.New("no path provided in configuration")
	}
	if err := os.MkdirAll(sc.Path, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	info, err := os.Stat(sc.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	if sc.MinimumFreeSpace <= 0 {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(sc.Path, &stat); err != nil {
		return fmt.Errorf("statfs: %w", err)
	}

	// Available blocks * size per block gives available space in bytes
	availableSpaceInGB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024 * 1024)
	if int(availableSpaceInGB) < sc.MinimumFreeSpace {
		return errors.New("not enough space available on disk")
	}

	return nil
}
