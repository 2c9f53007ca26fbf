package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"engagement-tracker-go/internal/app"
	"engagement-tracker-go/internal/buttondown"
	"engagement-tracker-go/internal/config"
	"engagement-tracker-go/internal/database"
	"engagement-tracker-go/internal/metrics"
	"engagement-tracker-go/internal/repository"
	"engagement-tracker-go/internal/syncer"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Create or update the database schema",
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		fmt.Fprintln(output(c), "migrations applied")
		return nil
	},
}

var syncCmd = &cli.Command{
	Name:  "sync",
	Usage: "Pull new events from the Buttondown API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "since",
			Usage: "ISO-8601 timestamp to start from instead of the stored watermark",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var since *time.Time
		if raw := strings.TrimSpace(c.String("since")); raw != "" {
			ts, ok := buttondown.ParseTimestamp(raw)
			if !ok {
				return fmt.Errorf("invalid --since value %q", raw)
			}
			since = &ts
		}

		client, err := app.NewButtondownClient(cfg.Buttondown)
		if err != nil {
			return err
		}
		repo, closeDB, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		s := syncer.New(repo, client, cfg.Buttondown.InitialSyncLookbackDays, metrics.NewMetrics(prometheus.NewRegistry()))
		outcome, err := s.Sync(ctx, since)
		if err != nil {
			return err
		}
		return printJSON(output(c), outcome)
	},
}

var stateCmd = &cli.Command{
	Name:  "state",
	Usage: "Show the stored sync watermark",
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, closeDB, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		state, err := repo.GetSyncState(ctx, syncer.StateKey)
		if err != nil {
			return err
		}
		out := map[string]any{
			"last_synced_at":        nil,
			"default_lookback_days": cfg.Buttondown.InitialSyncLookbackDays,
			"pending_initial_sync":  true,
		}
		if state != nil && state.LastSyncedAt != nil {
			out["last_synced_at"] = state.LastSyncedAt
			out["pending_initial_sync"] = false
		}
		return printJSON(output(c), out)
	},
}

var webhookIDFlag = &cli.StringFlag{
	Name:  "id",
	Usage: "webhook id, defaults to BUTTONDOWN_WEBHOOK_ID",
}

var webhooksCmd = &cli.Command{
	Name:  "webhooks",
	Usage: "Inspect the webhooks registered on the Buttondown account",
	Commands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List configured webhooks",
			Action: func(ctx context.Context, c *cli.Command) error {
				client, err := requireClient()
				if err != nil {
					return err
				}
				hooks, err := client.ListWebhooks(ctx)
				if err != nil {
					return err
				}
				return printJSON(output(c), hooks)
			},
		},
		{
			Name:  "show",
			Usage: "Show one webhook",
			Flags: []cli.Flag{webhookIDFlag},
			Action: func(ctx context.Context, c *cli.Command) error {
				client, err := requireClient()
				if err != nil {
					return err
				}
				hook, err := client.GetWebhook(ctx, c.String("id"))
				if err != nil {
					return err
				}
				return printJSON(output(c), hook)
			},
		},
		{
			Name:  "test",
			Usage: "Ask Buttondown to send a test delivery",
			Flags: []cli.Flag{webhookIDFlag},
			Action: func(ctx context.Context, c *cli.Command) error {
				client, err := requireClient()
				if err != nil {
					return err
				}
				if err := client.TriggerTestWebhook(ctx, c.String("id")); err != nil {
					return err
				}
				fmt.Fprintln(output(c), "test delivery requested")
				return nil
			},
		},
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.ConfigureLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func openRepository(cfg *config.Config) (*repository.Repository, func(), error) {
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return repository.New(db), closeDB, nil
}

func requireClient() (*buttondown.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buttondown.NewClient(cfg.Buttondown)
}

func output(c *cli.Command) io.Writer {
	if w := c.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
