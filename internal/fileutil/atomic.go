// Package fileutil provides filesystem helpers for report files.
package fileutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// ReportPerm is the permission of written report files.
const ReportPerm os.FileMode = 0o644

// WriteAtomic writes data to path atomically with the provided permissions.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomicFunc(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomicFunc streams the output of write into a temp file in the same
// directory, fsyncs it, then renames it over path. An existing file at path
// is replaced only if write succeeds.
func WriteAtomicFunc(path string, perm os.FileMode, write func(io.Writer) error) error {
	if path == "" {
		return ErrEmptyPath
	}

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmpFile.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmpFile.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	buf := bufio.NewWriter(tmpFile)
	if err := write(buf); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpPath, path); err != nil { //nolint:gosec // G703: path is the requested report location
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// Best effort directory sync for rename durability.
	if dirFile, err := os.Open(dir); err == nil { //nolint:gosec // G304: dir is derived from the report path
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}

	return nil
}

// EnsureDir creates dir and its parents if needed.
func EnsureDir(dir string) error {
	if dir == "" {
		return ErrEmptyPath
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}
