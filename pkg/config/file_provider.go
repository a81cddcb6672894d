package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/polis-gateway/pkg/telemetry"
)

const debounceDuration = 100 * time.Millisecond

// FileDefinitionProvider serves the API definitions of a directory and
// broadcasts a new Definitions value whenever a definition file changes.
type FileDefinitionProvider struct {
	dir     string
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	current     Definitions
	generation  int64
	subscribers []chan Definitions

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileDefinitionProvider loads dir. With watch set, changes to its
// definition files are reloaded until Close.
func NewFileDefinitionProvider(dir string, watch bool, metrics *telemetry.Metrics, logger *slog.Logger) (*FileDefinitionProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &FileDefinitionProvider{
		dir:     absDir,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	if err := p.load(); err != nil {
		return nil, err
	}

	if !watch {
		close(p.done)
		return p, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the latest successfully loaded definitions.
func (p *FileDefinitionProvider) Current() Definitions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving every reload. The current
// definitions are delivered first. A slow subscriber only misses
// intermediate values: the channel always ends up with the latest one.
func (p *FileDefinitionProvider) Subscribe() <-chan Definitions {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Definitions, 1)
	ch <- p.current
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops watching and closes subscriber channels.
func (p *FileDefinitionProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	p.cancel()
	err := p.watcher.Close()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return err
}

func (p *FileDefinitionProvider) watchLoop(ctx context.Context) {
	defer close(p.done)
	var debounceTimer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			if err := p.load(); err != nil {
				p.logger.Error("definitions reload failed, keeping previous definitions", "dir", p.dir, "error", err)
			} else {
				p.logger.Info("definitions reloaded", "dir", p.dir, "generation", p.Current().Generation)
			}
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("definitions watcher error", "dir", p.dir, "error", err)
		}
	}
}

func (p *FileDefinitionProvider) load() error {
	defs, err := LoadDefinitions(p.dir)
	p.metrics.RecordConfigReload(err)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.generation > 0 && defs.Checksum == p.current.Checksum {
		p.mu.Unlock()
		return nil
	}
	p.generation++
	defs.Generation = p.generation
	p.current = defs
	subscribers := append([]chan Definitions(nil), p.subscribers...)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- defs:
		default:
		}
	}
	return nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
