package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ameliade/crosspost/internal/models"
)

type Config struct {
	Environment string
	Port        string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// ImageDir is where draft images live between save and upload.
	ImageDir string

	// GroupCooldown is the pause between consecutive variant posts to a
	// site that cannot take them as one group.
	GroupCooldown time.Duration

	// SessionMaxIdle is how long a login survives without activity.
	SessionMaxIdle time.Duration

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// OAuth holds the registered application credentials for each
	// OAuth-linked destination site, keyed by site id.
	OAuth map[models.Site]OAuthApp
}

type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("CROSSPOST_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:    env,
		Port:           getEnvOrDefault("PORT", "8080"),
		DBHost:         getEnvOrDefault("CROSSPOST_DB_HOST", "localhost"),
		DBPort:         getEnvOrDefault("CROSSPOST_DB_PORT", "5432"),
		DBUsername:     getEnvOrDefault("CROSSPOST_DB_USER", "crosspost"),
		DBPassword:     os.Getenv("CROSSPOST_DB_PASSWORD"),
		DBName:         getEnvOrDefault("CROSSPOST_DB_NAME", "crosspost"),
		DBSSLMode:      getEnvOrDefault("CROSSPOST_DB_SSLMODE", "disable"),
		ImageDir:       getEnvOrDefault("CROSSPOST_IMAGE_DIR", "./images"),
		GroupCooldown:  getEnvDuration("CROSSPOST_GROUP_COOLDOWN_SECONDS", 20*time.Second),
		SessionMaxIdle: getEnvDuration("CROSSPOST_SESSION_MAX_IDLE_SECONDS", 12*time.Hour),
		SMTPHost:       os.Getenv("CROSSPOST_SMTP_HOST"),
		SMTPPort:       getEnvOrDefault("CROSSPOST_SMTP_PORT", "587"),
		SMTPUser:       os.Getenv("CROSSPOST_SMTP_USER"),
		SMTPPass:       os.Getenv("CROSSPOST_SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("CROSSPOST_SMTP_FROM"),
		OAuth:          loadOAuth(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadOAuth() map[models.Site]OAuthApp {
	oauth := make(map[models.Site]OAuthApp)
	for site, prefix := range map[models.Site]string{
		models.SiteTumblr:     "CROSSPOST_TUMBLR",
		models.SiteDeviantArt: "CROSSPOST_DEVIANTART",
		models.SiteTwitter:    "CROSSPOST_TWITTER",
	} {
		app := OAuthApp{
			ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
			RedirectURL:  os.Getenv(prefix + "_REDIRECT_URL"),
		}
		if app.ClientID != "" {
			oauth[site] = app
		}
	}
	return oauth
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("CROSSPOST_DB_PASSWORD is required")
	}

	if !isValidPort(c.DBPort) {
		return fmt.Errorf("CROSSPOST_DB_PORT is not a valid port number")
	}

	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number")
	}

	if c.GroupCooldown < 0 {
		return fmt.Errorf("CROSSPOST_GROUP_COOLDOWN_SECONDS must not be negative")
	}

	return nil
}

func isValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.DBUsername),
		url.QueryEscape(c.DBPassword),
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: %s is not a number, using default\n", key)
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
