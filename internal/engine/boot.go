package engine

import (
	"fmt"

	"grove/internal/config"
	"grove/internal/contextfields"
	"grove/internal/logging"
	"grove/internal/moments"
	"grove/internal/narrative"
	"grove/internal/storage"
	"grove/internal/triggers"
)

// Hooks are the observer callbacks Boot threads into the engine.
type Hooks struct {
	PersistError func(key string, err error)
	Turn         func(Turn)
}

// Boot builds an engine from configuration: it opens the storage backend and
// loads every configured rule file, resolving relative paths against root.
// The engine owns the store and closes it on Close.
func Boot(cfg *config.Config, root string, hooks Hooks) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "engine.Boot")
	defer timer.Stop()

	opts := Options{
		HistoryLimit:      cfg.Engagement.HistoryLimit,
		SessionTimeout:    cfg.SessionTimeout(),
		StageThresholds:   &cfg.Engagement.StageThresholds,
		MomentThresholds:  &cfg.Engagement.MomentThresholds,
		Weights:           &cfg.Ranking.Weights,
		MaxPrompts:        cfg.Ranking.MaxPrompts,
		MinScore:          cfg.Ranking.MinScore,
		EntropyThresholds: &cfg.Entropy.Thresholds,
		EntropyLimits:     &cfg.Entropy.Limits,
		GeneratorTTL:      cfg.CacheTTL(),
		PersistErrorHook:  hooks.PersistError,
		OnTurn:            hooks.Turn,
	}

	files := cfg.Files
	var err error
	if path := config.Resolve(root, files.Triggers); path != "" {
		if opts.Triggers, err = triggers.Load(path); err != nil {
			return nil, err
		}
	}
	if path := config.Resolve(root, files.Thresholds); path != "" {
		t, err := LoadStageThresholds(path)
		if err != nil {
			return nil, err
		}
		opts.StageThresholds = &t
	}
	if path := config.Resolve(root, files.Prompts); path != "" {
		if opts.Prompts, err = contextfields.LoadPrompts(path); err != nil {
			return nil, err
		}
	}
	if path := config.Resolve(root, files.Moments); path != "" {
		if opts.Moments, err = moments.Load(path); err != nil {
			return nil, err
		}
	}
	if path := config.Resolve(root, files.Narrative); path != "" {
		if opts.Narrative, err = narrative.Load(path); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    config.Resolve(root, cfg.Storage.Path),
		Driver:  cfg.Storage.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	opts.Store = store

	e := New(opts)
	e.ownedStore = store
	logging.Boot("engine ready: session=%s store=%s", e.bus.State().SessionID, cfg.Storage.Backend)
	return e, nil
}
