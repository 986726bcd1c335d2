package intake

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"go.uber.org/zap"
)

const defaultDropDebounce = 500 * time.Millisecond

// RejectedDir is the folder under the drop root that holds files which can never be
// uploaded, kept as <RejectedDir>/<caseID>/<name>.
const RejectedDir = ".rejected"

// DropExtensions are the file types picked up from the drop folder.
var DropExtensions = []string{"pdf", "png", "jpg", "jpeg", "webp", "docx", "xlsx", "txt", "csv"}

// Uploader receives the files found in the drop folder.
type Uploader interface {
	Upload(ctx context.Context, caseID string, files []models.File) (*models.PublicCase, error)
}

// DropWatcher watches a folder laid out as <root>/<caseID>/<slot>.<ext>, as written by
// branch scanners, and uploads each file once it stops changing. Uploaded files are removed.
type DropWatcher struct {
	root         string
	uploader     Uploader
	extensions   []string
	debounce     time.Duration
	maxFileBytes int64
	logger       *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// DropOption configures a DropWatcher.
type DropOption func(*DropWatcher)

// WithDropLogger sets the watcher logger.
func WithDropLogger(l *zap.Logger) DropOption {
	return func(w *DropWatcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is uploaded.
func WithDebounce(d time.Duration) DropOption {
	return func(w *DropWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithDropLimits sets the size cap checked before a dropped file is read.
func WithDropLimits(l Limits) DropOption {
	return func(w *DropWatcher) { w.maxFileBytes = l.FileBytes() }
}

// NewDropWatcher creates a watcher for root.
func NewDropWatcher(root string, uploader Uploader, opts ...DropOption) *DropWatcher {
	w := &DropWatcher{
		root:         filepath.Clean(root),
		uploader:     uploader,
		extensions:   DropExtensions,
		debounce:     defaultDropDebounce,
		maxFileBytes: DefaultMaxFileBytes,
		logger:       zap.NewNop(),
		pending:      make(map[string]*time.Timer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the root if needed, watches it and every case directory, and uploads
// files already present. It runs until ctx is cancelled or Stop is called.
func (w *DropWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		w.mu.Unlock()
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && isHidden(path) {
				return filepath.SkipDir
			}
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.mu.Unlock()

	w.logger.Info("drop folder watched", zap.String("root", w.root))
	w.syncDirectory(w.root)
	go w.run(ctx, fw)
	return nil
}

func (w *DropWatcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("drop watcher error", zap.Error(err))
			}
		}
	}
}

func (w *DropWatcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !isHidden(path) {
				w.addDirectory(path)
			}
			return
		}
		if w.accept(path) {
			w.schedule(path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancel(path)
	}
}

// addDirectory watches a new case directory and picks up files copied in with it.
func (w *DropWatcher) addDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if err := fw.Add(dir); err != nil {
		w.logger.Debug("drop watcher failed to add directory", zap.String("path", dir), zap.Error(err))
		return
	}
	w.syncDirectory(dir)
}

func (w *DropWatcher) syncDirectory(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && isHidden(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accept(path) {
			w.schedule(path)
		}
		return nil
	})
}

// accept reports whether path is <root>/<caseID>/<slot>.<ext> with an allowed extension.
func (w *DropWatcher) accept(path string) bool {
	_, _, ok := parseDropPath(w.root, path)
	return ok && matchExtension(path, w.extensions)
}

func (w *DropWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *DropWatcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *DropWatcher) process(ctx context.Context, path string) {
	caseID, slot, ok := parseDropPath(w.root, path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("drop file vanished", zap.String("path", path), zap.Error(err))
		return
	}
	if info.Size() > w.maxFileBytes {
		w.reject(path, caseID, ErrFileTooLarge)
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Debug("drop file vanished", zap.String("path", path), zap.Error(err))
		return
	}
	file := models.File{
		Slot:         slot,
		MimeType:     detectMIME(path, content),
		Size:         int64(len(content)),
		OriginalName: filepath.Base(path),
		Content:      content,
	}
	if _, err := w.uploader.Upload(ctx, caseID, []models.File{file}); err != nil {
		if permanentDropError(err) {
			w.reject(path, caseID, err)
			return
		}
		w.logger.Warn("drop upload failed", zap.String("case_id", caseID), zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		w.logger.Warn("failed to remove dropped file", zap.String("path", path), zap.Error(err))
	}
	w.logger.Info("drop file uploaded", zap.String("case_id", caseID), zap.String("slot", slot))
}

// reject moves path out of the watched tree so it is not picked up again.
func (w *DropWatcher) reject(path, caseID string, reason error) {
	dest := filepath.Join(w.root, RejectedDir, caseID, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		w.logger.Warn("failed to create rejected folder", zap.String("path", dest), zap.Error(err))
		return
	}
	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("failed to move rejected drop file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Warn("drop file rejected",
		zap.String("case_id", caseID),
		zap.String("path", path),
		zap.String("moved_to", dest),
		zap.Error(reason))
}

func permanentDropError(err error) bool {
	return errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrNoSlot) || errors.Is(err, cases.ErrNotFound)
}

// Stop stops watching and cancels pending uploads.
func (w *DropWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

// parseDropPath splits <root>/<caseID>/<slot>.<ext>. Hidden files are ignored.
func parseDropPath(root, path string) (caseID, slot string, ok bool) {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == "" || strings.HasPrefix(parts[0], ".") {
		return "", "", false
	}
	name := parts[1]
	if strings.HasPrefix(name, ".") {
		return "", "", false
	}
	slot = strings.TrimSuffix(name, filepath.Ext(name))
	if slot == "" {
		return "", "", false
	}
	return parts[0], slot, true
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func matchExtension(path string, extensions []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if len(extensions) == 0 {
		return true
	}
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func detectMIME(path string, content []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(content)
}
