package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/normwatch/normwatch-oss/pkg/classify"
)

// RulesProvider watches a YAML rule table and hot-reloads it on change. A
// reload that fails to parse or validate keeps the previous rule set.
type RulesProvider struct {
	path   string
	logger *slog.Logger

	mu          sync.RWMutex
	rules       classify.RuleSet
	subscribers []chan classify.RuleSet

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewRulesProvider creates a provider watching the specified rules file. The
// initial load must succeed; a service should not start on a broken table.
func NewRulesProvider(path string, logger *slog.Logger) (*RulesProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	rules, err := classify.LoadRuleSet(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &RulesProvider{
		path:    absPath,
		logger:  logger,
		rules:   rules,
		watcher: watcher,
		cancel:  cancel,
	}

	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the active rule set.
func (p *RulesProvider) Current() classify.RuleSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// Subscribe returns a channel that receives the rule set after each
// successful reload. The current rule set is sent immediately.
func (p *RulesProvider) Subscribe() <-chan classify.RuleSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan classify.RuleSet, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.rules
	return ch
}

// Close stops the watcher and cleans up resources.
func (p *RulesProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *RulesProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.reload(); err != nil {
						p.logger.Error("rules reload failed, keeping previous rule set",
							"path", p.path, "error", err)
					} else {
						p.logger.Info("classification rules reloaded", "path", p.path)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("rules watcher error", "error", err)
		}
	}
}

func (p *RulesProvider) reload() error {
	rules, err := classify.LoadRuleSet(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.rules = rules
	subscribers := make([]chan classify.RuleSet, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- rules:
		default:
			// Skip slow consumers; they will pick up the next reload.
		}
	}
	return nil
}
