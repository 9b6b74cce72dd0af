package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"sjsage522/noticewatcher/config"
	"sjsage522/noticewatcher/internal/adapter"
	"sjsage522/noticewatcher/internal/detector"
	"sjsage522/noticewatcher/internal/filter"
	"sjsage522/noticewatcher/internal/state"
	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"
	"sjsage522/noticewatcher/services/cache"
	"sjsage522/noticewatcher/services/notifier"
	"sjsage522/noticewatcher/services/worker"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	Cache    cache.CacheService
	Notifier *notifier.MultiNotifier
	Store    *state.Store
	// Chrome is nil unless a browser source is enabled
	Chrome *adapter.ChromeSession

	closers []func() error
}

// Close releases every service in reverse order of creation
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadSources reads, resolves and validates the sources file
func LoadSources(cfg *config.Config) (*config.Sources, error) {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	if err := sources.ResolveSecrets(os.LookupEnv, cfg); err != nil {
		return nil, err
	}
	if err := sources.Validate(); err != nil {
		return nil, err
	}
	if len(sources.Enabled()) == 0 {
		return nil, werrors.NewConfiguration(fmt.Sprintf("%s: no enabled sources", cfg.SourcesFile), nil)
	}
	return sources, nil
}

// NewDependencies builds the services the driver needs. The store is loaded;
// unreadable state is returned as a store error.
func NewDependencies(ctx context.Context, cfg *config.Config, sources []config.Source) (*Dependencies, error) {
	deps := &Dependencies{}

	deps.Cache = newCache(cfg)

	n, closers, err := newNotifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Notifier = n
	deps.closers = append(deps.closers, closers...)

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Store = store
	deps.closers = append(deps.closers, store.Close)

	for _, src := range sources {
		if src.Kind == adapter.KindBrowser {
			deps.Chrome = adapter.NewChromeSession(adapter.ChromeConfig{
				RemoteURL: cfg.ChromeRemoteURL,
				Bin:       cfg.ChromeBin,
			})
			deps.closers = append(deps.closers, deps.Chrome.Close)
			break
		}
	}

	return deps, nil
}

// newCache uses memcache when configured so cooldowns survive restarts
func newCache(cfg *config.Config) cache.CacheService {
	if cfg.MemcacheAddr == "" {
		return cache.NewMemoryCache()
	}

	mc := cache.NewMemcacheService(cfg.MemcacheAddr)
	if err := mc.Ping(); err != nil {
		logger.Warn("Memcache at %s unreachable, keeping cooldowns in memory: %v", cfg.MemcacheAddr, err)
		return cache.NewMemoryCache()
	}
	logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	return mc
}

func newNotifier(ctx context.Context, cfg *config.Config) (*notifier.MultiNotifier, []func() error, error) {
	var (
		notifiers []notifier.Notifier
		closers   []func() error
	)

	for _, name := range cfg.Notifiers {
		switch name {
		case "email":
			n, err := notifier.NewEmailNotifier(notifier.EmailConfig{
				From:     cfg.FromEmail,
				To:       cfg.ToEmail,
				Password: cfg.AppPassword,
				Addr:     cfg.SMTPAddr,
			})
			if err != nil {
				return nil, nil, err
			}
			notifiers = append(notifiers, n)

		case "redis":
			n := notifier.NewRedisNotifier(notifier.RedisConfig{
				Addr:            cfg.RedisAddr,
				DB:              cfg.RedisDB,
				StreamPrefix:    cfg.RedisStream,
				StreamCount:     cfg.RedisStreamCount,
				StreamMaxLength: cfg.RedisStreamMaxLength,
			})
			if err := n.Ping(ctx); err != nil {
				n.Close()
				return nil, nil, werrors.NewConfiguration(fmt.Sprintf("redis at %s unreachable", cfg.RedisAddr), err)
			}
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)", cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
			notifiers = append(notifiers, n)
			closers = append(closers, n.Close)

		case "log":
			notifiers = append(notifiers, notifier.LogNotifier{})

		default:
			return nil, nil, werrors.NewConfiguration(fmt.Sprintf("unknown notifier %q", name), nil)
		}
	}

	if len(notifiers) == 0 {
		notifiers = append(notifiers, notifier.LogNotifier{})
	}
	return notifier.NewMultiNotifier(notifiers...), closers, nil
}

// OpenStore opens the configured backend and loads the fingerprints
func OpenStore(ctx context.Context, cfg *config.Config) (*state.Store, error) {
	var backend state.Backend
	switch cfg.StateBackend {
	case config.StateBackendSQLite:
		b, err := state.OpenSQLite(ctx, cfg.StateFile)
		if err != nil {
			return nil, werrors.NewStore("open sqlite state", err)
		}
		backend = b
	default:
		backend = state.NewFileBackend(cfg.StateFile)
	}

	store := state.NewStore(backend)
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// BuildSources creates the adapter of every source and resolves its policies
func BuildSources(cfg *config.Config, sources []config.Source, deps *Dependencies) ([]worker.Source, error) {
	env := adapter.Env{
		Cache:         deps.Cache,
		Chrome:        deps.Chrome,
		NotionBaseURL: cfg.NotionBaseURL,
		NotionTimeout: cfg.FetchTimeout,
	}

	out := make([]worker.Source, 0, len(sources))
	for _, src := range sources {
		a, err := adapter.New(src.AdapterSpec(cfg.RateLimitBlock), env)
		if err != nil {
			return nil, err
		}

		out = append(out, worker.Source{
			ID:       src.ID,
			Name:     src.Name,
			StateKey: src.StateKey,
			Adapter:  a,
			Rules: filter.Rules{
				Keywords:   src.ExcludeKeywords,
				SkipPinned: src.SkipPinned != nil && *src.SkipPinned,
			},
			Policy: detector.Policy{
				Strategy:          src.Fingerprint.Strategy,
				NotifyOnFirstSeen: src.FirstSeenNotify(cfg.NotifyOnFirstSeen),
			},
			Retention: src.Fingerprint,
		})
	}
	return out, nil
}
