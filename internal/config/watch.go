package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"netpulse/pkg/logx"
)

// debounce absorbs the bursts of write events editors produce for one save.
const debounce = 200 * time.Millisecond

// Watch reloads the file on change and calls onChange with each valid new
// config. Invalid or unchanged content is logged and skipped; the previous
// config stays in effect. Blocks until ctx is done.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files, which drops a watch on the
	// file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	lastHash := hashFile(path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logx.Err(err))
		case <-fire:
			h := hashFile(path)
			if h == lastHash {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload rejected", logx.Err(err))
				continue
			}
			lastHash = h
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		}
	}
}

func hashFile(path string) uint64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
