package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/choraleia/styletree/pkg/config"
	"github.com/choraleia/styletree/pkg/event"
	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
	"github.com/choraleia/styletree/pkg/store"
	"github.com/choraleia/styletree/pkg/tree"
	"github.com/choraleia/styletree/pkg/utils"
)

// App wires configuration, connectors, the saved connection list and the tree.
type App struct {
	Config     *config.AppConfig
	Logger     *slog.Logger
	Emitter    *event.Emitter
	Registry   *resource.Registry
	Connectors *backend.Registry
	Store      *store.ConnectionStore
	Tree       *tree.Tree
}

// loadConfig reads the explicit file when given, ~/.styletree/config.yaml otherwise.
func loadConfig(path string) (*config.AppConfig, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, _, err := config.Load()
	return cfg, err
}

// NewApp builds the application and loads the tree roots. watch enables live
// filesystem updates; one-shot CLI commands leave it off.
func NewApp(ctx context.Context, cfg *config.AppConfig, watch bool) (*App, error) {
	utils.InitLogger(cfg.LogLevel())
	logger := utils.GetLogger()

	reg, err := resource.NewRegistry(cfg.HandlerNames()...)
	if err != nil {
		return nil, fmt.Errorf("build handler registry: %w", err)
	}

	emitter := event.NewEmitter(logger)
	st, err := store.Open(cfg.StorePath(), emitter)
	if err != nil {
		return nil, err
	}

	connectors := backend.NewRegistry(cfg.IncludeHidden())
	connectors.Add(backend.NewLocalConnector(models.LocalConnectorName, cfg.LocalRoots(), cfg.IncludeHidden()))

	conns, err := st.List(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("list saved connections: %w", err)
	}
	for i := range conns {
		c, err := connectors.FromConnection(&conns[i])
		if err != nil {
			logger.Warn("Skipping invalid saved connection", "name", conns[i].Name, "error", err)
			continue
		}
		connectors.Add(c)
	}

	bridge := event.NewTreeBridge(emitter)
	t := tree.New(tree.Options{
		Registry:      reg,
		Connectors:    connectors,
		Timeout:       cfg.Timeout(),
		QueueSize:     cfg.QueueSize(),
		Watch:         watch && cfg.Watch(),
		IncludeHidden: cfg.IncludeHidden(),
		Structure:     bridge,
		Selection:     bridge,
		Errors:        bridge,
		Logger:        logger,
	})
	if _, err := t.Load(ctx); err != nil {
		_ = t.Close()
		_ = st.Close()
		return nil, fmt.Errorf("load tree: %w", err)
	}

	logger.Info("Tree loaded", "connectors", len(connectors.All()), "handlers", reg.Discriminators())
	return &App{
		Config:     cfg,
		Logger:     logger,
		Emitter:    emitter,
		Registry:   reg,
		Connectors: connectors,
		Store:      st,
		Tree:       t,
	}, nil
}

// Close stops the tree and releases connector and store resources.
func (a *App) Close() error {
	err := a.Tree.Close()
	_ = a.Connectors.Close()
	if serr := a.Store.Close(); err == nil {
		err = serr
	}
	return err
}
