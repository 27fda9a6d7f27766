package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// debounceWrite coalesces the burst of fsnotify events a single editor save
// can produce; var (not const) so tests can zero it out, same idiom as the
// teacher's debounceEnvWrite.
var debounceWrite = 250 * time.Millisecond

// Mu guards the live Config this watcher mutates in place, so readers
// elsewhere in the process always observe a consistent snapshot.
var Mu sync.RWMutex

// ConfigWatcher watches the resolved .env file and reloads cfg in place on
// every write, mirroring the teacher's config.ConfigWatcher.
type ConfigWatcher struct {
	cfg      *Config
	envPath  string
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewConfigWatcher constructs a watcher for cfg's .env file. Load must have
// already populated cfg.DataPath.
func NewConfigWatcher(cfg *Config) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	envPath := envFilePath(cfg.DataPath)
	if err := w.Add(cfg.DataPath); err != nil {
		w.Close()
		return nil, err
	}
	return &ConfigWatcher{cfg: cfg, envPath: envPath, watcher: w, stopCh: make(chan struct{})}, nil
}

// Start begins watching in the background.
func (cw *ConfigWatcher) Start() error {
	go cw.handleEvents(cw.watcher.Events, cw.watcher.Errors)
	return nil
}

// Stop releases the underlying fsnotify watcher. Safe to call more than
// once.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		cw.watcher.Close()
	})
}

func (cw *ConfigWatcher) handleEvents(events <-chan fsnotify.Event, errs <-chan error) {
	var debounce *time.Timer
	for {
		select {
		case <-cw.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Name != cw.envPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWrite, cw.ReloadConfig)
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// ReloadConfig re-reads the environment/.env file and copies the new values
// into the watched Config in place, so callers holding a pointer see the
// update without a restart. On reload the file's values replace whatever the
// process environment already holds for the same keys, including variables
// that were set before the process started.
func (cw *ConfigWatcher) ReloadConfig() {
	if err := godotenv.Overload(cw.envPath); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Msg("config reload failed, keeping previous values")
		return
	}
	fresh, err := Load()
	if err != nil {
		log.Error().Err(err).Msg("config reload failed, keeping previous values")
		return
	}
	Mu.Lock()
	*cw.cfg = *fresh
	Mu.Unlock()
	log.Info().Msg("configuration reloaded")
}
