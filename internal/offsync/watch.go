package offsync

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchManifest watches the config file and rolls the cache over to a new
// generation when the asset version tag changes: install the new bucket,
// then activate (purging the old one). The analog of a new client version
// being published while the daemon keeps running.
func (s *Service) WatchManifest(configPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(filepath.Clean(configPath))
	if err != nil {
		_ = watcher.Close()
		return err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-s.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadManifest(abs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("manifest watch: %v", err)
			}
		}
	}()
	return nil
}

func (s *Service) reloadManifest(path string) {
	cfg, err := LoadConfig(path)
	if err != nil {
		log.Printf("manifest reload: %v", err)
		return
	}
	current := s.assets.currentManifest()
	if cfg.Assets.Version == current.Version {
		return
	}
	log.Printf("manifest reload: %s -> %s", current.Version, cfg.Assets.Version)

	s.setTargetManifest(cfg.Assets)
	if !s.monitor.Online() {
		s.installPending.Store(true)
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, 2*time.Minute)
	defer cancel()
	if err := s.assets.Install(ctx, cfg.Assets); err != nil {
		log.Printf("manifest reload: install: %v", err)
		return
	}
	if err := s.assets.Activate(); err != nil {
		log.Printf("manifest reload: activate: %v", err)
	}
}
