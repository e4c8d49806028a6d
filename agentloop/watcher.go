package agentloop

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileChangeKind discriminates watcher notifications.
type FileChangeKind string

const (
	// FileChanged reports a create/write/rename/remove under a watched path.
	FileChanged FileChangeKind = "changed"
	// FileWatchLagged reports that notifications were dropped because the
	// subscriber fell behind. The loop ignores it.
	FileWatchLagged FileChangeKind = "lagged"
	// FileWatchClosed reports that the watcher stopped. Watching is disabled
	// for the rest of the session; this is not fatal.
	FileWatchClosed FileChangeKind = "closed"
)

// FileChangeNotification is one watcher signal.
type FileChangeNotification struct {
	Kind FileChangeKind
	Path string
}

// watchBufferSize bounds undelivered notifications per watcher.
const watchBufferSize = 128

// FileWatcher surfaces filesystem changes on a bounded channel. When the
// channel is full, notifications are dropped and a single lagged marker is
// delivered once the subscriber catches up.
type FileWatcher struct {
	fs     *fsnotify.Watcher
	out    chan FileChangeNotification
	logger *slog.Logger

	closeOnce sync.Once
}

// NewFileWatcher watches the given paths.
func NewFileWatcher(logger *slog.Logger, paths ...string) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fs.Add(p); err != nil {
			fs.Close()
			return nil, err
		}
	}
	w := &FileWatcher{
		fs:     fs,
		out:    make(chan FileChangeNotification, watchBufferSize),
		logger: logger,
	}
	go w.pump()
	return w, nil
}

// Notifications returns the subscriber channel. It closes after a
// FileWatchClosed notification.
func (w *FileWatcher) Notifications() <-chan FileChangeNotification {
	return w.out
}

// Close stops the watcher. Subscribers observe FileWatchClosed and then
// channel close.
func (w *FileWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fs.Close() })
	return err
}

func (w *FileWatcher) pump() {
	defer close(w.out)
	lagged := false
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				w.out <- FileChangeNotification{Kind: FileWatchClosed}
				return
			}
			note := FileChangeNotification{Kind: FileChanged, Path: ev.Name}
			if lagged {
				select {
				case w.out <- FileChangeNotification{Kind: FileWatchLagged}:
					lagged = false
				default:
					continue
				}
			}
			select {
			case w.out <- note:
			default:
				lagged = true
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				w.out <- FileChangeNotification{Kind: FileWatchClosed}
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
