/*
main.go - Application entry point

PURPOSE:
  Starts the reward engine HTTP server that the Discord and Twitch bots
  call into, and provides a few operator commands.

COMMANDS:
  serve     Run the HTTP API and the background scheduler (default)
  seed      Insert the catalog's shop items
  catalog   Print the effective catalog as YAML

STARTUP SEQUENCE (serve):
  1. Load .env, then parse REWARDS_* environment (config.Load)
  2. Apply command-line overrides (--addr, --db, --catalog)
  3. Open the SQLite store and load the achievement catalog
  4. Build the engine, handler, router and scheduler
  5. Serve until SIGINT/SIGTERM, then shut down gracefully

GRACEFUL SHUTDOWN:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and wait for a running tick
  4. Close the database connection

EXAMPLES:
  ./server serve --db ./data/rewards.db
  ./server serve --db ":memory:" --addr :3000
  ./server seed --catalog ./catalog.yaml

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/urfave/cli/v2"
	"github.com/warp/reward-engine/api"
	"github.com/warp/reward-engine/config"
	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/factory"
	"github.com/warp/reward-engine/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func init() {
	//nolint:errcheck
	godotenv.Load()
}

func main() {
	app := &cli.App{
		Name:  "server",
		Usage: "reward and redemption engine for community bots",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (overrides REWARDS_DB_PATH)"},
			&cli.StringFlag{Name: "catalog", Usage: "catalog YAML path (overrides REWARDS_CATALOG_PATH)"},
		},
		Commands: []*cli.Command{
			commandServe(),
			commandSeed(),
			commandCatalog(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func commandServe() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP API and scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides REWARDS_ADDR)"},
		},
		Action: func(c *cli.Context) error {
			injector, err := newContainer(c)
			if err != nil {
				return err
			}
			defer closeStore(injector)

			cfg := do.MustInvoke[*config.Config](injector)
			router := api.NewRouter(do.MustInvoke[*api.Handler](injector), cfg.CORSOrigins)
			scheduler := do.MustInvoke[*api.Scheduler](injector)

			srv := &http.Server{
				Addr:         cfg.Addr,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Printf("Server starting on %s (db %s)", cfg.Addr, cfg.DBPath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				scheduler.Start()
				<-gctx.Done()
				scheduler.Stop()
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Println("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Println("Server stopped")
			return nil
		},
	}
}

func commandSeed() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "insert the catalog's shop items",
		Action: func(c *cli.Context) error {
			injector, err := newContainer(c)
			if err != nil {
				return err
			}
			defer closeStore(injector)

			catalog := do.MustInvoke[*factory.Catalog](injector)
			eng := do.MustInvoke[*engine.Engine](injector)

			n, err := eng.SeedItems(c.Context, catalog.Items)
			if err != nil {
				return fmt.Errorf("seed items: %w", err)
			}
			log.Printf("Seeded %d of %d items, %d achievements synced", n, len(catalog.Items), len(catalog.Achievements))
			return nil
		},
	}
}

func commandCatalog() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "print the effective catalog as YAML",
		Action: func(c *cli.Context) error {
			path := c.String("catalog")
			if path == "" {
				path = os.Getenv("REWARDS_CATALOG_PATH")
			}
			catalog, err := factory.LoadCatalog(path)
			if err != nil {
				return err
			}
			out, err := factory.Marshal(catalog)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

// =============================================================================
// CONTAINER
// =============================================================================

// newContainer loads configuration, applies flag overrides and registers
// lazy providers for everything a command may need.
func newContainer(c *cli.Context) (*do.Injector, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := c.String("addr"); v != "" {
		cfg.Addr = v
	}
	if v := c.String("db"); v != "" {
		cfg.DBPath = v
	}
	if v := c.String("catalog"); v != "" {
		cfg.CatalogPath = v
	}

	injector := do.New()
	do.ProvideValue(injector, cfg)

	do.Provide(injector, func(i *do.Injector) (*sqlite.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return store, nil
	})

	do.Provide(injector, func(i *do.Injector) (*factory.Catalog, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return factory.LoadCatalog(cfg.CatalogPath)
	})

	do.Provide(injector, func(i *do.Injector) (*engine.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := do.Invoke[*sqlite.Store](i)
		if err != nil {
			return nil, err
		}
		catalog, err := do.Invoke[*factory.Catalog](i)
		if err != nil {
			return nil, err
		}
		policies, err := cfg.Policies()
		if err != nil {
			return nil, err
		}
		return engine.New(context.Background(), store, catalog.Achievements,
			engine.WithPolicies(policies),
			engine.WithDaily(cfg.DailySettings()),
		)
	})

	do.Provide(injector, func(i *do.Injector) (*api.Handler, error) {
		eng, err := do.Invoke[*engine.Engine](i)
		if err != nil {
			return nil, err
		}
		return api.NewHandler(eng, do.MustInvoke[*sqlite.Store](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*api.Scheduler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		eng, err := do.Invoke[*engine.Engine](i)
		if err != nil {
			return nil, err
		}
		return api.NewScheduler(eng, cfg.VoiceTickSchedule, cfg.SweepSchedule)
	})

	return injector, nil
}

func closeStore(injector *do.Injector) {
	store, err := do.Invoke[*sqlite.Store](injector)
	if err != nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
}
