package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is a log file that is renamed to file.1 once it grows past
// maxSize, shifting older backups up and dropping those beyond maxBackups.
type RotatingWriter struct {
	filename    string
	maxSize     int64 // bytes
	maxBackups  int
	currentFile *os.File
	currentSize int64
	mu          sync.Mutex
}

// NewRotatingWriter creates a new rotating writer
func NewRotatingWriter(filename string, maxSizeMB int, maxBackups int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rw := &RotatingWriter{
		filename:   filename,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write writes data to the log file, rotating if necessary
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return 0, os.ErrClosed
	}
	if w.maxSize > 0 && w.currentSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// Filename returns the active log file path
func (w *RotatingWriter) Filename() string {
	return w.filename
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.currentFile = file
	w.currentSize = info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}
	w.currentFile = nil

	if w.maxBackups <= 0 {
		if err := os.Remove(w.filename); err != nil && !os.IsNotExist(err) {
			return err
		}
		return w.open()
	}

	os.Remove(backupName(w.filename, w.maxBackups))
	for i := w.maxBackups - 1; i >= 1; i-- {
		src := backupName(w.filename, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, backupName(w.filename, i+1)); err != nil {
				return err
			}
		}
	}
	if err := os.Rename(w.filename, backupName(w.filename, 1)); err != nil {
		return err
	}
	return w.open()
}

func backupName(filename string, n int) string {
	return fmt.Sprintf("%s.%d", filename, n)
}
