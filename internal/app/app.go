// Package app assembles the store, remotes and orchestrator from a loaded
// configuration for the novelhub commands.
package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"novelhub/internal/auth"
	"novelhub/internal/fetch"
	"novelhub/internal/local"
	"novelhub/internal/merge"
	"novelhub/internal/remote"
	"novelhub/pkg/database"
	"novelhub/pkg/utils"
)

type App struct {
	Config  utils.Config
	Logger  *zap.Logger
	DB      *sql.DB
	Store   *local.Store
	Remotes *remote.Registry
}

// Open opens the store named by cfg and registers its remotes.
func Open(cfg utils.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	remotes, err := BuildRegistry(cfg.Remotes)
	if err != nil {
		return nil, err
	}
	db, err := database.OpenMigrated(database.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Store:   local.NewStore(db, cfg.Store.LockDir),
		Remotes: remotes,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// BuildRegistry creates one adapter per configured remote.
func BuildRegistry(cfgs []utils.RemoteConfig) (*remote.Registry, error) {
	reg := remote.NewRegistry()
	for _, rc := range cfgs {
		switch rc.Kind {
		case utils.RemoteKindMirror:
			reg.Register(remote.NewMirror(rc.Name, rc.URL, rc.Upstream, rc.Token, rc.Timeout()))
		case utils.RemoteKindFolder:
			reg.Register(remote.NewFolder(rc.Name, rc.Dir))
		default:
			return nil, fmt.Errorf("remote %q: unknown kind %q", rc.Name, rc.Kind)
		}
	}
	return reg, nil
}

// Orchestrator returns a fetch orchestrator over the app's store. merger may
// be nil to decline every merge.
func (a *App) Orchestrator(merger merge.Resolver) *fetch.Orchestrator {
	return fetch.NewOrchestrator(fetch.LocalStore{Store: a.Store}, a.Remotes, merger, a.Logger.Named("fetch"))
}

// MergeTool is the configured interactive merge program.
func (a *App) MergeTool() *merge.Tool {
	t := merge.NewTool(a.Config.Merge.Command, a.Logger.Named("merge"))
	t.TempDir = a.Config.Merge.TempDir
	return t
}

// FetchOptions converts the [fetch] section.
func (a *App) FetchOptions() (fetch.Options, error) {
	fc := a.Config.Fetch
	policy, err := fetch.ParsePolicy(fc.Policy)
	if err != nil {
		return fetch.Options{}, err
	}
	return fetch.Options{
		Policy:   policy,
		Workers:  fc.Workers,
		Retry:    fc.Retry,
		Interval: fc.IntervalDuration(),
	}, nil
}

func (a *App) Tokens() auth.TokenService {
	m := a.Config.Mirror
	return auth.TokenService{
		Secret:   []byte(m.JWTSecret),
		Issuer:   m.JWTIssuer,
		Duration: m.JWTDuration(),
	}
}
