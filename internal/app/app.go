package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/api"
	"github.com/gmsas95/careminder/internal/channels/discord"
	"github.com/gmsas95/careminder/internal/channels/telegram"
	"github.com/gmsas95/careminder/internal/config"
	"github.com/gmsas95/careminder/internal/cron"
	"github.com/gmsas95/careminder/internal/metrics"
	"github.com/gmsas95/careminder/internal/plan"
	"github.com/gmsas95/careminder/internal/reminder"
	"github.com/gmsas95/careminder/internal/store"
	"go.uber.org/zap"
)

type App struct {
	Config      *config.Config
	Store       *store.Store
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Engine      *reminder.Engine
	Emitter     *alerting.Emitter
	Hub         *api.LiveHub
	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	Haptic      *alerting.MQTTPublisher
	CronRunner  *cron.Runner
	PlanWatcher *plan.Watcher
	Server      *api.Server
	Version     string
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Version: version,
	}
}

// Build wires the engine and its alert channels and restores persisted
// timers. Channels that fail to start are logged and left out.
func (app *App) Build(ctx context.Context) error {
	if app.Engine != nil {
		return nil
	}
	if app.Metrics == nil {
		app.Metrics = metrics.Default()
	}

	repo, err := reminder.NewStoreRepository(app.Store)
	if err != nil {
		return fmt.Errorf("failed to migrate reminder tables: %w", err)
	}

	app.Hub = api.NewLiveHub(nil, app.Logger)
	app.Emitter = alerting.NewEmitter(app.Logger, app.Metrics, app.buildChannels(ctx)...)
	app.Emitter.Add(app.Hub)

	opts := reminder.Options{
		Windows:         reminder.WindowsFromConfig(app.Config.Alerts.Windows),
		EscalationGrace: app.Config.Alerts.EscalationGrace,
		Logger:          app.Logger.Named("reminder"),
		Metrics:         app.Metrics,
	}
	if j := app.Store.Journal(); j != nil {
		opts.Journal = j
	}
	app.Engine = reminder.NewEngine(repo, app.Emitter, opts)

	app.Hub.SetActions(app.Engine)
	if app.TelegramBot != nil {
		app.TelegramBot.SetActions(app.Engine)
	}
	if app.DiscordBot != nil {
		app.DiscordBot.SetActions(app.Engine)
	}

	if err := app.Engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to restore timers: %w", err)
	}
	return nil
}

func (app *App) buildChannels(ctx context.Context) []alerting.Channel {
	ch := app.Config.Channels
	var out []alerting.Channel

	if ch.Console.Enabled {
		out = append(out, alerting.NewConsole(true))
	}

	if ch.Telegram.Enabled && ch.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(telegram.Config{
			Token:         ch.Telegram.BotToken,
			Enabled:       true,
			ChatIDs:       ch.Telegram.ChatIDs,
			RatePerMinute: ch.Telegram.RatePerMinute,
		}, nil, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			app.TelegramBot = bot
			out = append(out, bot)
			app.Logger.Info("Telegram bot started")
		}
	}

	if ch.Discord.Enabled && ch.Discord.Token != "" {
		bot, err := discord.NewBot(discord.Config{
			Token:     ch.Discord.Token,
			Enabled:   true,
			ChannelID: ch.Discord.ChannelID,
		}, nil, app.Logger)
		if err != nil {
			app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Discord bot", zap.Error(err))
		} else {
			app.DiscordBot = bot
			out = append(out, bot)
			app.Logger.Info("Discord bot started")
		}
	}

	if ch.Push.Enabled {
		sender, err := alerting.NewFirebaseSender(ctx, ch.Push.CredentialsPath)
		if err != nil {
			app.Logger.Error("Failed to create push sender", zap.Error(err))
		} else {
			out = append(out, alerting.NewPush(sender, ch.Push.DeviceTokens))
			app.Logger.Info("Push notifications enabled", zap.Int("devices", len(ch.Push.DeviceTokens)))
		}
	}

	if ch.Tone.Enabled {
		tone := alerting.NewTone(ch.Tone.PlayerCommand, ch.Tone.SampleRate)
		if !tone.Available() {
			app.Logger.Warn("Tone player not found, audio alerts disabled",
				zap.String("command", ch.Tone.PlayerCommand))
		}
		out = append(out, tone)
	}

	if ch.Haptic.Enabled {
		pub, err := alerting.NewMQTTPublisher(ch.Haptic.BrokerURL, ch.Haptic.ClientID)
		if err != nil {
			app.Logger.Error("Failed to connect haptic broker", zap.Error(err))
		} else {
			app.Haptic = pub
			out = append(out, alerting.NewHaptic(pub, alerting.HapticOptions{
				Topic:           ch.Haptic.Topic,
				BreakerFailures: ch.Haptic.BreakerFailures,
				BreakerTimeout:  ch.Haptic.BreakerTimeout,
			}, app.Logger))
			app.Logger.Info("Haptic alerts enabled", zap.String("broker", ch.Haptic.BrokerURL))
		}
	}

	return out
}

// ApplyPlan loads a care plan file and schedules every reminder in it
func (app *App) ApplyPlan(ctx context.Context, path string) (*plan.Result, error) {
	if err := app.Build(ctx); err != nil {
		return nil, err
	}
	f, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	res := plan.Apply(ctx, f, app.Engine)
	app.Logger.Info("Care plan applied",
		zap.String("path", path),
		zap.Int("applied", res.Applied),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// ListAlerts returns active alerts, most urgent first
func (app *App) ListAlerts(ctx context.Context, minPriority *alerting.Priority) ([]reminder.ScheduledAlert, error) {
	if err := app.Build(ctx); err != nil {
		return nil, err
	}
	return app.Engine.AlertsByPriority(ctx, minPriority)
}

// Start runs the background services: rollover, plan watching and the API
func (app *App) Start(ctx context.Context) error {
	if err := app.Build(ctx); err != nil {
		return err
	}

	if path := app.Config.Plan.Path; path != "" {
		if res, err := app.ApplyPlan(ctx, path); err != nil {
			app.Logger.Error("Failed to load care plan", zap.String("path", path), zap.Error(err))
		} else if err := res.Err(); err != nil {
			app.Logger.Warn("Care plan partially applied", zap.Error(err))
		}

		if app.Config.Plan.Watch {
			app.PlanWatcher = plan.NewWatcher(path, app.Engine, app.Logger)
			if err := app.PlanWatcher.Start(ctx); err != nil {
				app.Logger.Error("Failed to watch care plan", zap.Error(err))
				app.PlanWatcher = nil
			}
		}
	}

	if app.Config.Rollover.Enabled {
		runner, err := cron.NewRunner(cron.Config{
			Schedule: app.Config.Rollover.Schedule,
		}, app.Engine, app.Logger)
		if err != nil {
			return err
		}
		if err := runner.Start(); err != nil {
			app.Logger.Error("Failed to start rollover runner", zap.Error(err))
		} else {
			app.CronRunner = runner
			app.Logger.Info("Rollover runner started", zap.Time("next", runner.Next()))
		}
	}

	if app.Config.Server.Enabled {
		if app.Version != "" {
			api.Version = app.Version
		}
		app.Server = api.New(app.Config.Server, app.Engine, app.Hub, app.Metrics, app.Logger)
		go func() {
			if err := app.Server.Start(); err != nil {
				app.Logger.Error("Server error", zap.Error(err))
			}
		}()
		app.Logger.Info("Server started",
			zap.String("address", app.Config.Server.Address),
			zap.Int("port", app.Config.Server.Port),
			zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
		)
	}

	return nil
}

// RunServer starts everything and blocks until SIGINT or SIGTERM
func (app *App) RunServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		app.Logger.Fatal("Failed to start", zap.Error(err))
	}

	alerts, err := app.Engine.AlertsByPriority(ctx, nil)
	if err == nil {
		app.Logger.Info("Reminder engine ready", zap.Int("active_alerts", len(alerts)))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")
	app.Shutdown()
}

// Shutdown stops every service in reverse start order. Safe to call on a
// partially built app.
func (app *App) Shutdown() {
	if app.Server != nil {
		if err := app.Server.Shutdown(); err != nil {
			app.Logger.Error("Server shutdown error", zap.Error(err))
		}
	} else if app.Hub != nil {
		app.Hub.Close()
	}

	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}

	if app.PlanWatcher != nil {
		if err := app.PlanWatcher.Stop(); err != nil {
			app.Logger.Warn("Plan watcher stop error", zap.Error(err))
		}
	}

	if app.Engine != nil {
		app.Engine.Shutdown()
	}

	if app.TelegramBot != nil {
		app.TelegramBot.Stop()
	}

	if app.DiscordBot != nil {
		if err := app.DiscordBot.Stop(); err != nil {
			app.Logger.Warn("Discord bot stop error", zap.Error(err))
		}
	}

	if app.Haptic != nil {
		app.Haptic.Disconnect()
	}

	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Error("Store close error", zap.Error(err))
		}
	}
}
