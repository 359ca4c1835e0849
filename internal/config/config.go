// Package config loads the daemon configuration with the precedence
// flags > environment variables > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// GoogleCredentials represents the structure of a Google OAuth
// credentials JSON file as downloaded from the Cloud Console.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads the OAuth client id and secret from a
// credentials JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "web" first (server deployments), then "installed"
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'web' or 'installed' section)")
}

// Config holds the configuration for the sync daemon.
type Config struct {
	DatabasePath          string `json:"database_path"`
	GoogleCredentialsPath string `json:"google_credentials_path"`
	CalendarID            string `json:"calendar_id,omitempty"`          // Remote calendar to mirror into (default: "primary")
	SyncSchedule          string `json:"sync_schedule,omitempty"`        // Cron expression for the sync trigger (default: every 15 minutes)
	SyncTimeoutMinutes    int    `json:"sync_timeout_minutes,omitempty"` // Time budget for one sync run (default: 10)
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence
// (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile, databasePathFlag, googleCredentialsPathFlag string) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if databasePath := os.Getenv("CALSYNC_DB_PATH"); databasePath != "" {
		config.DatabasePath = databasePath
	}
	if googleCredentialsPath := os.Getenv("GOOGLE_CREDENTIALS_PATH"); googleCredentialsPath != "" {
		config.GoogleCredentialsPath = googleCredentialsPath
	}
	if schedule := os.Getenv("CALSYNC_SCHEDULE"); schedule != "" {
		config.SyncSchedule = schedule
	}
	if timeout := os.Getenv("CALSYNC_SYNC_TIMEOUT_MINUTES"); timeout != "" {
		minutes, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CALSYNC_SYNC_TIMEOUT_MINUTES value: %w", err)
		}
		config.SyncTimeoutMinutes = minutes
	}

	// Step 3: Override with command-line flags (highest priority)
	if databasePathFlag != "" {
		config.DatabasePath = databasePathFlag
	}
	if googleCredentialsPathFlag != "" {
		config.GoogleCredentialsPath = googleCredentialsPathFlag
	}

	// Step 4: Apply defaults and validate required fields
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("database_path must be provided via --db flag, CALSYNC_DB_PATH environment variable, or config file")
	}
	if config.GoogleCredentialsPath == "" {
		return nil, fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}

	if config.CalendarID == "" {
		config.CalendarID = "primary"
	}
	if config.SyncSchedule == "" {
		config.SyncSchedule = "*/15 * * * *"
	}
	if config.SyncTimeoutMinutes == 0 {
		config.SyncTimeoutMinutes = 10
	}

	return &config, nil
}
