package toolhost

import (
	"context"
	"os"
	"reflect"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/conduit/internal/tp"
)

// Watch begins watching the tool-server configuration file for changes. On
// a write event it reloads the file and reconciles the running server set:
// new ids are connected, removed ids are disconnected, and ids whose
// configuration changed are disconnected then reconnected. A watch failure
// (missing file, inotify limits, ...) is logged and reload stays disabled;
// it is never fatal, since the coordinator is already usable from
// Initialize's one-time load.
func (c *Coordinator) Watch(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("config hot-reload disabled: could not create watcher", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		c.logger.Warn("config hot-reload disabled: could not watch path", "path", path, "error", err)
		watcher.Close()
		return
	}

	c.mu.Lock()
	c.watcher = watcher
	c.watchStop = make(chan struct{})
	c.configPath = path
	stop := c.watchStop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c.reload(ctx, path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("config watcher error", "error", err)
			}
		}
	}()
}

// StopWatch stops the hot-reload watcher, if one is running.
func (c *Coordinator) StopWatch() {
	c.mu.Lock()
	watcher := c.watcher
	stop := c.watchStop
	c.watcher = nil
	c.watchStop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if watcher != nil {
		watcher.Close()
	}
}

func (c *Coordinator) reload(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("config reload failed to read file", "error", err)
		return
	}
	fc, err := LoadFileConfig(data)
	if err != nil {
		c.logger.Warn("config reload failed to parse file", "error", err)
		return
	}

	c.mu.Lock()
	current := make(map[string]*supervisor, len(c.supervisors))
	for id, sv := range c.supervisors {
		current[id] = sv
	}
	c.mu.Unlock()

	desired := make(map[string]bool)
	for id, cfg := range fc.Servers {
		if cfg.ID == "" {
			cfg.ID = id
		}
		if cfg.AutoStart {
			desired[cfg.ID] = true
		}
	}

	// Remove servers no longer present or no longer AutoStart.
	for id, sv := range current {
		if !desired[id] {
			c.logger.Info("config reload: stopping removed server", "server", id)
			sv.stop()
			c.mu.Lock()
			delete(c.supervisors, id)
			c.mu.Unlock()
		}
	}

	// Reconnect servers whose configuration changed in place: disconnect the
	// running supervisor, then start a fresh one from the new config.
	changed := map[string]*tp.ServerConfig{}
	for id := range desired {
		sv, exists := current[id]
		if !exists {
			continue
		}
		cfg := fc.Servers[id]
		if cfg.ID == "" {
			cfg.ID = id
		}
		if !reflect.DeepEqual(sv.config, cfg) {
			changed[id] = cfg
		}
	}
	for id, cfg := range changed {
		c.logger.Info("config reload: reconnecting changed server", "server", id)
		current[id].stop()
		c.mu.Lock()
		delete(c.supervisors, id)
		c.mu.Unlock()
		if err := cfg.Validate(); err != nil {
			c.logger.Error("config reload: invalid server config, leaving disconnected", "server", id, "error", err)
			continue
		}
		sv := newSupervisor(cfg, c.reg, c.logger)
		c.mu.Lock()
		c.supervisors[id] = sv
		c.mu.Unlock()
		done := make(chan struct{})
		go sv.run(ctx, done)
	}

	// Add servers that are new.
	for id, cfg := range fc.Servers {
		if cfg.ID == "" {
			cfg.ID = id
		}
		if !cfg.AutoStart {
			continue
		}
		if _, exists := current[cfg.ID]; exists {
			continue
		}
		if err := cfg.Validate(); err != nil {
			c.logger.Error("config reload: invalid server config, skipping", "server", cfg.ID, "error", err)
			continue
		}
		c.logger.Info("config reload: starting new server", "server", cfg.ID)
		sv := newSupervisor(cfg, c.reg, c.logger)
		c.mu.Lock()
		c.supervisors[cfg.ID] = sv
		c.mu.Unlock()
		done := make(chan struct{})
		go sv.run(ctx, done)
	}
}
