package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"tagcal/internal/config"
	"tagcal/internal/google"
	"tagcal/internal/icloud"
	"tagcal/internal/models"
	"tagcal/internal/panel"
	"tagcal/internal/session"
	"tagcal/internal/staging"
	"tagcal/internal/store"
	"tagcal/internal/syncer"
	"tagcal/internal/tags"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "tagcal",
		Usage: "Stage calendar event tags and write them back to the calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "tagcal.yaml", EnvVars: []string{"TAGCAL_CONFIG"}, Usage: "Path to the YAML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
			flushCommand(),
			configCommand(),
			calendarsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Remote.Google.ClientID, cfg.Remote.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Printf("Enter a name for this account [%s]: ", cfg.Remote.Google.Account)
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = cfg.Remote.Google.Account
			}
			tokenFile := filepath.Join(cfg.Remote.Google.TokenDir, google.TokenFileName(accountName))

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the tag panel API and flush staged tags on a schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be flushed without making changes."},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer app.close()

			listen := app.cfg.Listen
			if c.IsSet("listen") {
				listen = c.String("listen")
			}

			app.scheduler.Start(ctx)
			defer app.scheduler.Stop()

			if path := c.String("config"); fileExists(path) {
				go func() {
					err := config.Watch(ctx, app.logger, path, func(next *config.Config) {
						app.resolver.SetDefaults(next.DefaultTags)
						if err := app.backend.DeletePropertyAll(ctx, tags.PropCatalog); err != nil {
							app.logger.Warn("Could not invalidate memoized catalogs", "error", err)
						}
					})
					if err != nil {
						app.logger.Warn("Config watcher stopped", "error", err)
					}
				}()
			}

			srv := panel.NewServer(app.logger, app.controller, app.backend, app.cfg.DefaultUser, app.cfg.APIKey)
			return srv.ListenAndServe(ctx, listen)
		},
	}
}

func flushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "Write staged tags back to the calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be flushed without making changes."},
			&cli.IntFlag{Name: "watch", Value: 60, Usage: "Flush every N seconds instead of once."},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, c)
			if err != nil {
				return err
			}
			defer app.close()

			if !c.IsSet("watch") {
				app.logger.Info("Running a single flush cycle.")
				if err := app.scheduler.RunOnce(ctx); err != nil {
					return fmt.Errorf("single flush cycle failed: %w", err)
				}
				return nil
			}

			interval := time.Duration(c.Int("watch")) * time.Second
			app.logger.Info("Starting watcher.", "interval", interval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := app.scheduler.RunOnce(ctx); err != nil {
					app.logger.Error("Flush cycle failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}

func configCommand() *cli.Command {
	userFlag := &cli.StringFlag{Name: "user", Usage: "User whose configuration to use (default from config)."}
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change a user's tag sheet configuration.",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the tag sheet configuration and resolved catalog.",
				Flags: []cli.Flag{userFlag},
				Action: func(c *cli.Context) error {
					app, err := newLocalApp(c.Context, c)
					if err != nil {
						return err
					}
					defer app.close()

					sess := app.session(c.String("user"))
					sc := tags.LoadSourceConfig(c.Context, sess)
					fmt.Printf("user:          %s\n", sess.User)
					fmt.Printf("sheet id:      %s\n", sc.SheetID)
					fmt.Printf("sheet name:    %s\n", sc.SheetName)
					fmt.Printf("tag column:    %s\n", sc.TagColumn)
					fmt.Printf("domain column: %s\n", sc.DomainColumn)
					fmt.Printf("catalog:       %s\n", strings.Join(app.resolver.Resolve(c.Context, sess), " "))
					return nil
				},
			},
			{
				Name:  "set",
				Usage: "Replace the tag sheet configuration.",
				Flags: []cli.Flag{
					userFlag,
					&cli.StringFlag{Name: "sheet-id"},
					&cli.StringFlag{Name: "sheet-name"},
					&cli.StringFlag{Name: "tag-column"},
					&cli.StringFlag{Name: "domain-column"},
				},
				Action: func(c *cli.Context) error {
					app, err := newLocalApp(c.Context, c)
					if err != nil {
						return err
					}
					defer app.close()

					sess := app.session(c.String("user"))
					_, err = app.controller.Dispatch(c.Context, sess, panel.SaveConfig{SourceConfig: tags.SourceConfig{
						SheetID:      c.String("sheet-id"),
						SheetName:    c.String("sheet-name"),
						TagColumn:    c.String("tag-column"),
						DomainColumn: c.String("domain-column"),
					}})
					if err != nil {
						return err
					}
					app.logger.Info("Configuration saved.", "user", sess.User)
					return nil
				},
			},
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendars of every authenticated account.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			g := cfg.Remote.Google

			accounts, err := google.GetTokenAccounts(g.TokenDir)
			if err != nil {
				return fmt.Errorf("failed to list token accounts: %w", err)
			}
			if len(accounts) == 0 {
				return errors.New("no Google accounts found. Please run the 'auth' command first")
			}

			for _, account := range accounts {
				httpClient, err := google.NewHTTPClient(c.Context, g.ClientID, g.ClientSecret, g.TokenDir, account)
				if err != nil {
					return err
				}
				client, err := google.NewCalendarClient(c.Context, logger, httpClient)
				if err != nil {
					return fmt.Errorf("failed to create google client for account %s: %w", account, err)
				}
				ids, err := client.ListCalendars(c.Context)
				if err != nil {
					logger.Error("Failed to list calendars", "account", account, "error", err)
					continue
				}
				fmt.Printf("%s:\n", account)
				for _, id := range ids {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
}

// app holds the wired components shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	backend    store.Backend
	resolver   *tags.Resolver
	controller *panel.Controller
	scheduler  *syncer.Scheduler
}

func (a *app) session(user string) *session.Session {
	if user == "" {
		user = a.cfg.DefaultUser
	}
	return session.FromBackend(user, a.backend)
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("Failed to close store", "error", err)
	}
}

// newApp wires every component against the configured remote calendar.
func newApp(ctx context.Context, c *cli.Context) (*app, error) {
	return wire(ctx, c, true)
}

// newLocalApp wires the components without requiring the remote calendar;
// only the tag sheet is contacted, and only when a Google token exists.
func newLocalApp(ctx context.Context, c *cli.Context) (*app, error) {
	return wire(ctx, c, false)
}

func wire(ctx context.Context, c *cli.Context, needRemote bool) (*app, error) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := setupLogger(logLevel)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	dryRun := cfg.Flush.DryRun || c.Bool("dry-run")
	if dryRun {
		logger.Info("Performing a dry run. No changes will be made.")
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sheets := sheetSource(ctx, logger, cfg)
	var remote models.RemoteStore = unavailableRemote{}
	if needRemote {
		remote, err = buildRemote(ctx, logger, cfg)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	index := staging.NewDirtyIndex(logger, cfg.Staging.IndexTTL)
	cache := staging.NewCache(logger, cfg.Staging.TTL, index)
	resolver := tags.NewResolver(logger, sheets, cfg.DefaultTags)
	controller := panel.NewController(logger, remote, resolver, tags.NewDeriver(logger, sheets), cache)
	engine := syncer.NewEngine(logger, remote, cache, dryRun)
	scheduler, err := syncer.NewScheduler(logger, engine, backend, cfg.Flush.Schedule, cfg.Flush.Parallel)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	logger.Info("Initialized components.", "remote", cfg.Remote.Kind, "store", cfg.Store.Path, "stagingTTL", cfg.Staging.TTL, "indexTTL", cfg.Staging.IndexTTL)
	return &app{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		resolver:   resolver,
		controller: controller,
		scheduler:  scheduler,
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	if cfg.Store.Path == config.MemoryStorePath {
		return store.NewMemoryStore(nil), nil
	}
	backend, err := store.OpenSQLite(ctx, cfg.Store.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return backend, nil
}

func buildRemote(ctx context.Context, logger *slog.Logger, cfg *config.Config) (models.RemoteStore, error) {
	switch cfg.Remote.Kind {
	case config.RemoteCalDAV:
		d := cfg.Remote.CalDAV
		client, err := icloud.NewClient(ctx, logger, d.Endpoint, d.Username, d.Password, d.CalendarName)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil
	default:
		g := cfg.Remote.Google
		httpClient, err := google.NewHTTPClient(ctx, g.ClientID, g.ClientSecret, g.TokenDir, g.Account)
		if err != nil {
			return nil, err
		}
		client, err := google.NewCalendarClient(ctx, logger, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", g.Account, err)
		}
		return client, nil
	}
}

// sheetSource returns the Google Sheets reader, or nil when no Google
// account is authenticated; the catalog then falls back to defaults.
func sheetSource(ctx context.Context, logger *slog.Logger, cfg *config.Config) tags.SheetSource {
	g := cfg.Remote.Google
	httpClient, err := google.NewHTTPClient(ctx, g.ClientID, g.ClientSecret, g.TokenDir, g.Account)
	if err != nil {
		logger.Warn("Google Sheets unavailable, tag sheets disabled", "error", err)
		return nil
	}
	client, err := google.NewSheetsClient(ctx, logger, httpClient)
	if err != nil {
		logger.Warn("Google Sheets unavailable, tag sheets disabled", "error", err)
		return nil
	}
	return client
}

var errRemoteUnavailable = errors.New("remote calendar not configured for this command")

// unavailableRemote stands in for the remote calendar in local-only commands.
type unavailableRemote struct{}

func (unavailableRemote) GetEvent(context.Context, string, string) (*models.Event, error) {
	return nil, errRemoteUnavailable
}

func (unavailableRemote) UpdateEvent(context.Context, *models.Event) (*models.Event, error) {
	return nil, errRemoteUnavailable
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
