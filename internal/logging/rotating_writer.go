package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter writes to log files that rotate on UTC day changes and when
// the current file would exceed MaxBytes.
//
// Given basePath logs/accounts.log, output goes to
// logs/accounts-YYYY-MM-DD.log, then logs/accounts-YYYY-MM-DD-2.log once the
// size threshold is crossed within the same day. basePath itself is kept as a
// symlink to the active file.
type RotatingWriter struct {
	basePath string
	maxBytes int64

	mu       sync.Mutex
	curDate  string // YYYY-MM-DD
	curIndex int    // 1-based within the day
	file     *os.File
	size     int64
}

// NewRotatingWriter creates a rotating writer using basePath as the logical
// log file. A basePath of "-" discards all output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	w := &RotatingWriter{basePath: basePath, maxBytes: maxBytes}
	if err := w.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.size += int64(n)
	}
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *RotatingWriter) rotateIfNeeded(incoming int64) error {
	// Day boundary is UTC so rotation does not depend on host timezone.
	today := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || w.curDate != today {
		w.curDate = today
		w.curIndex = 1
		return w.openCurrent()
	}
	if w.size+incoming > w.maxBytes {
		w.curIndex++
		return w.openCurrent()
	}
	return nil
}

func (w *RotatingWriter) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.curDate, ext)
	if w.curIndex > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.curDate, w.curIndex, ext)
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.updatePointer(path)
	return nil
}

// updatePointer keeps basePath pointing at the active file so tail -F on the
// logical name keeps working across rotations. Symlink is preferred; on
// filesystems without link support a plain pointer file is written instead.
func (w *RotatingWriter) updatePointer(target string) {
	base := strings.TrimSpace(w.basePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", target)
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
