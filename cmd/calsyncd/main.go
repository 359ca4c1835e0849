package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/sparklemanager/calsync/internal/auth"
	calclient "github.com/sparklemanager/calsync/internal/calendar"
	"github.com/sparklemanager/calsync/internal/config"
	"github.com/sparklemanager/calsync/internal/ics"
	"github.com/sparklemanager/calsync/internal/store"
	"github.com/sparklemanager/calsync/internal/sync"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Booking Calendar Sync Daemon

Mirrors each user's bookings into their connected Google Calendar on a
fixed schedule. The local booking database is the source of truth:
bookings are pushed out, and remote events without a matching booking
are removed. Remote edits are never imported back.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                     Show this help message and exit
    --config FILE                  Path to JSON config file
    --db PATH                      Path to the SQLite database
                                   (overrides config file and CALSYNC_DB_PATH env var)
    --google-credentials-path PATH Path to Google OAuth credentials JSON file
                                   (overrides config file and GOOGLE_CREDENTIALS_PATH env var)
    --once                         Run a single sync pass and exit
    --export-ics USER:PATH         Write the named user's bookings as an ICS feed to PATH and exit

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (CALSYNC_DB_PATH, GOOGLE_CREDENTIALS_PATH,
       CALSYNC_SCHEDULE, CALSYNC_SYNC_TIMEOUT_MINUTES)
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    {
      "database_path": "/var/lib/calsync/calsync.db",
      "google_credentials_path": "/etc/calsync/credentials.json",
      "calendar_id": "primary",
      "sync_schedule": "*/15 * * * *",
      "sync_timeout_minutes": 10
    }

    The Google credentials JSON file should be in the format downloaded
    from Google Cloud Console, with a "web" or "installed" section
    containing "client_id" and "client_secret".

    Users connect their calendars through the web application's login
    flow, which stores the OAuth token in the database. Users without a
    stored token are skipped until they authorize.

EXAMPLES:
    # Run the daemon with a config file
    %s --config /etc/calsync/config.json

    # Run a single sync pass (e.g. from an external scheduler)
    %s --config /etc/calsync/config.json --once

    # Export one user's bookings as an ICS feed
    %s --config /etc/calsync/config.json --export-ics 1f3c...:/tmp/bookings.ics

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
	dbPath := flag.String("db", "", "Path to the SQLite database (overrides config file and CALSYNC_DB_PATH env var)")
	googleCredentialsPath := flag.String("google-credentials-path", "", "Path to Google OAuth credentials JSON file (overrides config file and GOOGLE_CREDENTIALS_PATH env var)")
	once := flag.Bool("once", false, "Run a single sync pass and exit")
	exportICS := flag.String("export-ics", "", "Write the named user's bookings as an ICS feed (USER:PATH) and exit")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadConfig(*configFile, *dbPath, *googleCredentialsPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if *exportICS != "" {
		if err := runExport(db, *exportICS); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		return
	}

	clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		log.Fatalf("Failed to load Google credentials: %v", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes: []string{
			"https://www.googleapis.com/auth/calendar",
			"https://www.googleapis.com/auth/calendar.events",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}

	tokens := auth.NewManager(db, oauthConfig, store.ErrTokenNotFound)

	// A fresh client per sync run, built from the user's credential.
	newClient := func(ctx context.Context, token *oauth2.Token) (sync.CalendarAPI, error) {
		return calclient.NewClient(ctx, token)
	}

	engine := sync.NewEngine(db, tokens, newClient, cfg.CalendarID)
	scheduler := sync.NewScheduler(engine, db)
	runTimeout := time.Duration(cfg.SyncTimeoutMinutes) * time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("signal received, shutting down: %v", sig)
		cancel()
	}()

	runOnce := func() {
		runCtx, cancelRun := context.WithTimeout(ctx, runTimeout)
		defer cancelRun()
		scheduler.RunOnce(runCtx)
	}

	if *once {
		runOnce()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.SyncSchedule, runOnce); err != nil {
		log.Fatalf("Invalid sync schedule %q: %v", cfg.SyncSchedule, err)
	}
	c.Start()
	log.Printf("sync daemon started, schedule %q, calendar %q", cfg.SyncSchedule, cfg.CalendarID)

	<-ctx.Done()

	// Let an in-flight run finish before exiting.
	<-c.Stop().Done()
	log.Printf("sync daemon stopped")
}

// runExport handles the --export-ics USER:PATH flag.
func runExport(db *store.Store, arg string) error {
	userID, path, ok := strings.Cut(arg, ":")
	if !ok || userID == "" || path == "" {
		return fmt.Errorf("invalid --export-ics value %q, expected USER:PATH", arg)
	}

	events, err := db.ListEventsForUser(userID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := ics.Export(f, events); err != nil {
		return err
	}
	log.Printf("wrote %d event(s) for user %s to %s", len(events), userID, path)
	return nil
}
