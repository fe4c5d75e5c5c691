// Package hotfolder submits image files dropped into a watched directory.
package hotfolder

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rjeczalik/notify"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/raster"
)

const (
	settleTime   = 500 * time.Millisecond
	pollInterval = 200 * time.Millisecond

	rejectedSuffix = ".rejected"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

type Submitter interface {
	Submit(img image.Image) (string, error)
}

// Watcher waits until a file has been quiet for settleTime before
// decoding it, so partially copied files are not picked up.
type Watcher struct {
	path      string
	submitter Submitter
	fsEvents  chan notify.EventInfo
	pending   map[string]time.Time
	settle    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewWatcher(path string, submitter Submitter, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:      path,
		submitter: submitter,
		fsEvents:  make(chan notify.EventInfo, 32),
		pending:   make(map[string]time.Time),
		settle:    settleTime,
		now:       time.Now,
		logger:    logger.Named("hotfolder"),
	}
}

// Run watches the directory until ctx is cancelled. Files already present
// when it starts are submitted first.
func (w *Watcher) Run(ctx context.Context) error {
	dir, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve hot folder: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create hot folder: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	w.path = dir

	if err := notify.Watch(dir, w.fsEvents, notify.Create, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch hot folder: %w", err)
	}
	defer notify.Stop(w.fsEvents)

	w.logger.Info("watching hot folder", zap.String("path", dir))
	w.scanExisting()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ei := <-w.fsEvents:
			w.touch(ei.Path())
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		w.logger.Warn("failed to list hot folder", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.path, e.Name()))
		}
	}
}

func (w *Watcher) touch(path string) {
	if filepath.Dir(path) != w.path || !accepts(path) {
		return
	}
	w.pending[path] = w.now()
}

func (w *Watcher) flush() {
	now := w.now()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)
		w.process(path)
	}
}

func (w *Watcher) process(path string) {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to open file", zap.String("file", path), zap.Error(err))
		}
		return
	}
	img, _, err := raster.Decode(f)
	f.Close()
	if err != nil {
		w.logger.Warn("rejected file", zap.String("file", path), zap.Error(err))
		if err := os.Rename(path, path+rejectedSuffix); err != nil {
			w.logger.Error("failed to set aside rejected file", zap.String("file", path), zap.Error(err))
		}
		return
	}

	id, err := w.submitter.Submit(img)
	if err != nil {
		w.logger.Warn("failed to submit file", zap.String("file", path), zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		w.logger.Error("failed to remove submitted file", zap.String("file", path), zap.Error(err))
	}
	w.logger.Info("submitted file", zap.String("file", filepath.Base(path)), zap.String("job_id", id))
}

func accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
