package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadDefaultsFile reads global policy defaults from a YAML file. Fields the
// file omits keep their platform default values; the result is clamped.
func LoadDefaultsFile(path string) (SecurityPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SecurityPolicy{}, fmt.Errorf("read policy defaults: %w", err)
	}

	defaults := Default()
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return SecurityPolicy{}, fmt.Errorf("parse policy defaults: %w", err)
	}
	return defaults.Clamp(), nil
}

// WatchDefaultsFile reloads the defaults file into the resolver whenever it
// changes. It blocks until the watcher fails or stop is closed; run it in a
// goroutine. Reload errors are reported through onError and the previous
// defaults stay in effect.
func WatchDefaultsFile(path string, resolver *Resolver, stop <-chan struct{}, onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			defaults, err := LoadDefaultsFile(path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			resolver.SetDefaults(defaults)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		case <-stop:
			return nil
		}
	}
}
