package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceDelay coalesces the bursts of write events editors produce when
// saving a file.
const debounceDelay = 200 * time.Millisecond

// Watch reloads the settings file whenever it changes and delivers the new
// settings to onChange. It blocks until ctx is cancelled. Reload failures
// are logged and skipped; the previous settings stay active.
func Watch(ctx context.Context, path string, onChange func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := watcher.Close(); errClose != nil {
			log.Errorf("config watcher: close error: %v", errClose)
		}
	}()

	// Watch the directory, not the file: editors rename over the target
	// and a file watch dies with the old inode.
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			settings, errLoad := Load(path)
			if errLoad != nil {
				log.Warnf("config watcher: reload failed, keeping previous settings: %v", errLoad)
				continue
			}
			log.WithField("path", path).Info("settings reloaded")
			onChange(settings)
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher: %v", errWatch)
		}
	}
}
