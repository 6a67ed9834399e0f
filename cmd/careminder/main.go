package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/app"
	"github.com/gmsas95/careminder/internal/config"
	"github.com/gmsas95/careminder/internal/logging"
	"github.com/gmsas95/careminder/internal/store"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", config.GetEnvDefault("CAREMINDER_CONFIG", ""), "Path to config file")
	dataDir    = flag.String("data", config.GetEnvDefault("CAREMINDER_DATA_DIR", ""), "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Parse()
	args := flag.Args()

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve", "server":
		initApp().RunServer()
	case "plan":
		runPlan(args)
	case "alerts":
		runAlerts(args)
	case "version", "--version", "-v":
		fmt.Printf("Careminder version %s\n", version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
}

func initApp() *app.App {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env files: %v", err)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "careminder")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting Careminder",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	return app.New(cfg, st, logger, version)
}

func runPlan(args []string) {
	if len(args) < 2 || args[0] != "apply" {
		fmt.Println("Usage: careminder plan apply <file>")
		os.Exit(2)
	}

	application := initApp()
	defer application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := application.ApplyPlan(ctx, args[1])
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Applied %d reminder(s)\n", res.Applied)
	for key, err := range res.Failed {
		fmt.Printf("❌ %s: %v\n", key, err)
	}
	if len(res.Failed) > 0 {
		os.Exit(1)
	}
}

func runAlerts(args []string) {
	var floor *alerting.Priority
	if len(args) > 0 {
		p, err := alerting.ParsePriority(args[0])
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(2)
		}
		floor = &p
	}

	application := initApp()
	defer application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alerts, err := application.ListAlerts(ctx, floor)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	if len(alerts) == 0 {
		fmt.Println("No active alerts")
		return
	}

	fmt.Printf("%-9s %-10s %-12s %-17s %s\n", "PRIORITY", "STATUS", "SUBJECT", "FIRES AT", "MESSAGE")
	for _, a := range alerts {
		fmt.Printf("%-9s %-10s %-12s %-17s %s\n",
			a.Priority, a.Status, a.SubjectID, a.ScheduledAt.Local().Format("2006-01-02 15:04"), a.Message)
	}
	fmt.Printf("\n%d active alert(s)\n", len(alerts))
}

func printHelp() {
	fmt.Println(`Careminder - caregiving reminders and adherence tracking

Usage:
  careminder [flags] [command]

Commands:
  serve                 Run the reminder engine, alert channels and HTTP API (default)
  plan apply <file>     Schedule every reminder in a care plan file
  alerts [priority]     List active alerts, optionally at or above a priority
  version               Print the version
  help                  Show this help

Flags:
  -config <path>        Path to config file
  -data <path>          Path to data directory`)
}
