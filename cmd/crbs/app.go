package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"crbs/internal/archive"
	"crbs/internal/config"
	"crbs/internal/engine"
	"crbs/internal/installer"
	"crbs/internal/logging"
	"crbs/internal/manifest"
	"crbs/internal/pipeline"
	"crbs/internal/registry"
	"crbs/internal/snapcache"
	"crbs/internal/toolchain"
	"crbs/internal/transport"
	"crbs/internal/version"
)

// app bundles what every command derives from global flags and config.
type app struct {
	settings   config.Settings
	configPath string
	logger     *log.Logger
	timings    bool
	ui         uiMode
}

func loadApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Root().PersistentFlags()
	verbosity, err := flags.GetCount("verbose")
	if err != nil {
		return nil, err
	}
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = config.Path()
	}
	timings, err := flags.GetBool("timings")
	if err != nil {
		return nil, err
	}
	uiValue, err := flags.GetString("ui")
	if err != nil {
		return nil, err
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), verbosity)
	settings, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}
	logger.Debug("configuration loaded", "path", path, "manifest", settings.ManifestURL, "storage", settings.StorageRoot)
	return &app{
		settings:   settings,
		configPath: path,
		logger:     logger,
		timings:    timings,
		ui:         mode,
	}, nil
}

func (a *app) openRegistry() (*registry.Registry, error) {
	return registry.Open(config.RegistryPath())
}

func (a *app) fetcher() *transport.HTTP {
	return &transport.HTTP{
		UserAgent: "crbs/" + version.Version,
		Progress: func(done, total int64) {
			if total > 0 && done == total {
				a.logger.Debug("download complete", "bytes", done)
			}
		},
	}
}

func (a *app) engine(lookup engine.Lookup, sink pipeline.ProgressSink) *engine.Engine {
	return engine.New(lookup, engine.Config{
		GOOS:        runtime.GOOS,
		CompatLayer: a.settings.CompatLayer,
	}, engine.WithLogger(a.logger), engine.WithProgress(sink))
}

func (a *app) installer(store installer.Store, sink pipeline.ProgressSink) *installer.Manager {
	return installer.New(store, a.fetcher(), installer.ExtractorFunc(archive.Extract), installer.Options{
		StorageRoot: a.settings.StorageRoot,
		Logger:      a.logger,
		Progress:    sink,
	})
}

// snapshot fetches the manifest and refreshes the local cache. With offline
// set, only the cache is consulted.
func (a *app) snapshot(ctx context.Context, offline bool) (toolchain.Snapshot, error) {
	url := a.settings.ManifestURL
	cache, cacheErr := snapcache.Open(config.CacheDir())
	if cacheErr != nil {
		a.logger.Warn("manifest cache unavailable", "err", cacheErr)
	}
	if offline {
		if cache == nil {
			return toolchain.Snapshot{}, cacheErr
		}
		snap, err := cache.Get(url)
		if errors.Is(err, snapcache.ErrMiss) {
			return toolchain.Snapshot{}, fmt.Errorf("no cached manifest for %s; run once without --offline", url)
		}
		return snap, err
	}
	resolver := manifest.NewResolver(a.fetcher(), manifest.WithLogger(a.logger))
	snap, err := resolver.Resolve(ctx, url)
	if err != nil {
		return toolchain.Snapshot{}, err
	}
	if cache != nil {
		if err := cache.Put(snap); err != nil {
			a.logger.Warn("failed to cache manifest", "err", err)
		}
	}
	return snap, nil
}
