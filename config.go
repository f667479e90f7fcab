package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	storeBackendPostgres   = "postgres"
	storeBackendMongo      = "mongo"
	defaultImportMaxBytes  = 10 * 1024 * 1024
	defaultImportBatchTTL  = 12 * time.Hour
	defaultTimezone        = "Asia/Manila"
	defaultGeocoderChoice  = "fallback"
	minSigningSecretLength = 16
)

var geocoderProviders = []string{"fallback", "nominatim", "mapbox", "google", "none"}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}
	mongoURI := strings.TrimSpace(os.Getenv("MONGO_URI"))

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if backend == "" {
		backend = storeBackendPostgres
		if databaseURL == "" && mongoURI != "" {
			backend = storeBackendMongo
		}
	}
	switch backend {
	case storeBackendPostgres:
		if databaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL or PG*/POSTGRES_* variables must be configured")
		}
	case storeBackendMongo:
		if mongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI must be configured when STORE_BACKEND is mongo")
		}
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be 'postgres' or 'mongo'")
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < minSigningSecretLength {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least %d characters", minSigningSecretLength)
	}

	publicBase := strings.TrimRight(valueOrDefault("PUBLIC_BASE_URL", "http://localhost:3000"), "/")

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	timezone := valueOrDefault("TIMEZONE", defaultTimezone)
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is not a known zone: %w", timezone, err)
	}

	geocoderProvider := strings.ToLower(valueOrDefault("GEOCODER_PROVIDER", defaultGeocoderChoice))
	if !containsString(geocoderProviders, geocoderProvider) {
		return nil, fmt.Errorf("GEOCODER_PROVIDER must be one of %s", strings.Join(geocoderProviders, ", "))
	}

	cfg := &Config{
		Addr:                      valueOrDefault("GIN_ADDR", ":8080"),
		Env:                       env,
		StoreBackend:              backend,
		DatabaseURL:               databaseURL,
		MongoURI:                  mongoURI,
		MongoDatabase:             valueOrDefault("MONGO_DB", "blotterdesk"),
		DataRoot:                  valueOrDefault("DATA_ROOT", "/var/lib/blotterdesk"),
		PublicBaseURL:             publicBase,
		AppSigningSecret:          secret,
		Timezone:                  timezone,
		Location:                  location,
		BootstrapOperatorEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_OPERATOR_EMAIL")),
		BootstrapOperatorPassword: strings.TrimSpace(os.Getenv("BOOTSTRAP_OPERATOR_PASSWORD")),
		BootstrapOperatorRole:     valueOrDefault("BOOTSTRAP_OPERATOR_ROLE", "admin"),
		GeocoderProvider:          geocoderProvider,
		MapboxAccessToken:         strings.TrimSpace(os.Getenv("MAPBOX_ACCESS_TOKEN")),
		GoogleMapsAPIKey:          strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")),
		ResendAPIKey:              strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		MailerFromAddresses: map[string]string{
			"resend": valueOrDefault("MAILER_FROM_ADDRESS_RESEND", "blotter@mail.blotterdesk.local"),
			"log":    valueOrDefault("MAILER_FROM_ADDRESS_LOG", "noreply@blotterdesk.local"),
		},
		DigestEmailTo:  strings.TrimSpace(os.Getenv("DIGEST_EMAIL_TO")),
		SentryDSN:      strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		ImportMaxBytes: defaultImportMaxBytes,
		ImportBatchTTL: defaultImportBatchTTL,
	}

	if raw := strings.TrimSpace(os.Getenv("IMPORT_MAX_BYTES")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("IMPORT_MAX_BYTES must be a positive integer")
		}
		cfg.ImportMaxBytes = parsed
	}

	if raw := strings.TrimSpace(os.Getenv("IMPORT_BATCH_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("IMPORT_BATCH_TTL must be a positive duration such as 12h")
		}
		cfg.ImportBatchTTL = parsed
	}

	if !containsString(operatorRoles, cfg.BootstrapOperatorRole) {
		return nil, fmt.Errorf("BOOTSTRAP_OPERATOR_ROLE must be 'admin' or 'staff'")
	}
	if cfg.GeocoderProvider == "google" && cfg.GoogleMapsAPIKey == "" {
		return nil, fmt.Errorf("GOOGLE_MAPS_API_KEY is required for the google geocoder")
	}

	return cfg, nil
}

func loadDotEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(strings.TrimPrefix(line[:idx], "export "))
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), "\"'")
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}
