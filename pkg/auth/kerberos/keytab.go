package kerberos

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/config"
)

// Environment variables that take precedence over the configuration file.
const (
	EnvKeytab    = "TABLERPC_KERBEROS_KEYTAB"
	EnvPrincipal = "TABLERPC_KERBEROS_PRINCIPAL"
	EnvKrb5Conf  = "TABLERPC_KERBEROS_KRB5CONF"
)

// DefaultKeytabPollInterval is used when no poll interval is configured.
const DefaultKeytabPollInterval = 60 * time.Second

// keytabReloader is what the manager drives on change.
type keytabReloader interface {
	ReloadKeytab() error
}

// KeytabManager reloads the keytab when the file changes.
//
// It watches the keytab's directory with fsnotify, since key management
// tools usually replace the file by rename, and also polls the modification
// time as a fallback for filesystems without inotify support.
type KeytabManager struct {
	path     string
	target   keytabReloader
	interval time.Duration

	mu      sync.Mutex
	lastMod time.Time
	watcher *fsnotify.Watcher

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewKeytabManager creates a manager for path. It does nothing until Start.
func NewKeytabManager(path string, target keytabReloader, interval time.Duration) *KeytabManager {
	if interval <= 0 {
		interval = DefaultKeytabPollInterval
	}
	return &KeytabManager{
		path:     path,
		target:   target,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start records the current modification time and begins watching.
func (km *KeytabManager) Start() error {
	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}

	km.mu.Lock()
	km.lastMod = info.ModTime()
	km.mu.Unlock()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w, err := fsnotify.NewWatcher(); err != nil {
		logger.Warn("Keytab watcher unavailable, polling only", "path", km.path, logger.Err(err))
	} else if err := w.Add(filepath.Dir(km.path)); err != nil {
		_ = w.Close()
		logger.Warn("Keytab watcher unavailable, polling only", "path", km.path, logger.Err(err))
	} else {
		km.watcher = w
		events, errs = w.Events, w.Errors
	}

	km.started.Store(true)
	go km.loop(events, errs)

	logger.Info("Keytab hot-reload started",
		"path", km.path,
		"poll_interval", km.interval.String(),
		"watch", km.watcher != nil)
	return nil
}

// Stop ends watching and waits for the loop to exit. Safe to call more than
// once, and on a manager that was never started.
func (km *KeytabManager) Stop() {
	km.stopOnce.Do(func() {
		close(km.stopCh)
		if km.watcher != nil {
			_ = km.watcher.Close()
		}
	})
	if km.started.Load() {
		<-km.done
	}
}

func (km *KeytabManager) loop(events <-chan fsnotify.Event, errs <-chan error) {
	defer close(km.done)

	ticker := time.NewTicker(km.interval)
	defer ticker.Stop()

	name := filepath.Clean(km.path)
	for {
		select {
		case <-km.stopCh:
			return
		case <-ticker.C:
			km.checkAndReload(false)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Chmod) {
				km.checkAndReload(true)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Keytab watcher error", "path", km.path, logger.Err(err))
		}
	}
}

// checkAndReload reloads the keytab when its modification time changed, or
// unconditionally when force is set.
func (km *KeytabManager) checkAndReload(force bool) {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		// Mid-rename; the Create event or next poll picks it up.
		logger.Debug("Keytab stat failed", "path", km.path, logger.Err(err))
		return
	}
	if !force && info.ModTime().Equal(km.lastMod) {
		return
	}

	if err := km.target.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", "path", km.path, logger.Err(err))
		return
	}
	km.lastMod = info.ModTime()
	logger.Info("Keytab reloaded", "path", km.path)
}

func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}

func resolveKeytabPath(configPath string) string {
	if env := os.Getenv(EnvKeytab); env != "" {
		return env
	}
	return configPath
}

func resolveServicePrincipal(configPrincipal string) string {
	if env := os.Getenv(EnvPrincipal); env != "" {
		return env
	}
	return configPrincipal
}

func resolveKrb5ConfPath(configPath string) string {
	if env := os.Getenv(EnvKrb5Conf); env != "" {
		return env
	}
	if configPath != "" {
		return configPath
	}
	return config.DefaultKrb5Conf
}
