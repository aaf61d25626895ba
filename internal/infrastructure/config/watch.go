package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// ReloadFunc receives the freshly loaded configuration, or the error that
// prevented loading it. On error the previous configuration stays in force.
type ReloadFunc func(*Config, error)

// Watch reloads the file at path whenever it changes and passes the result
// to fn. Bursts of events are coalesced. The parent directory is watched so
// editors that replace the file by rename are handled. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			fn(Load(abs))

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("watch %s: %w", abs, err))
		}
	}
}
