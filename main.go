package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"blotterdesk/internal/catalog"
	"blotterdesk/internal/intake"
	"blotterdesk/libs/mailer"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	loginRateLimitRequests     = 10
	loginRateLimitWindow       = 5 * time.Minute
	rateLimiterCleanupInterval = time.Minute
	operatorCookieName         = "blotterdesk_operator_session"
	operatorSessionDuration    = 8 * time.Hour
	blotterAssignAttempts      = 3
	geocodeTimeout             = 30 * time.Second
	shutdownTimeout            = 15 * time.Second
	sentryFlushTimeout         = 2 * time.Second
	devCORSOriginLocalhost     = "http://localhost:3000"
	devCORSOriginLoopback      = "http://127.0.0.1:3000"
	trustedProxyLoopbackIPv4   = "127.0.0.1"
	trustedProxyLoopbackIPv6   = "::1"
	reportSourceImport         = "import"
	reportSourceManual         = "manual"
)

var (
	operatorRoles = []string{"admin", "staff"}
	reportSources = []string{reportSourceImport, reportSourceManual}
)

type Config struct {
	Addr                      string
	Env                       string
	StoreBackend              string
	DatabaseURL               string
	MongoURI                  string
	MongoDatabase             string
	DataRoot                  string
	PublicBaseURL             string
	AppSigningSecret          string
	Timezone                  string
	Location                  *time.Location
	BootstrapOperatorEmail    string
	BootstrapOperatorPassword string
	BootstrapOperatorRole     string
	GeocoderProvider          string
	MapboxAccessToken         string
	GoogleMapsAPIKey          string
	ResendAPIKey              string
	MailerFromAddresses       map[string]string
	DigestEmailTo             string
	SentryDSN                 string
	ImportMaxBytes            int64
	ImportBatchTTL            time.Duration
}

type App struct {
	cfg     *Config
	store   ReportStore
	log     *slog.Logger
	catalog *catalog.Catalog
	now     func() time.Time

	geocoder Geocoder
	mailer   *mailer.Mailer
	imports  *importStaging

	rateLimiterMu sync.Mutex
	rateBuckets   map[string]rateBucket

	background sync.WaitGroup
}

type rateBucket struct {
	start time.Time
	count int
}

// Report is a stored blotter entry: the canonical record plus the fields the
// station adds when filing it.
type Report struct {
	intake.Record
	PublicID      string  `json:"publicId"`
	BlotterNo     string  `json:"blotterNo"`
	DateEncoded   string  `json:"dateEncoded"`
	Source        string  `json:"source"`
	ImportBatchID *string `json:"importBatchId,omitempty"`
	CreatedBy     string  `json:"createdBy"`
	Address       *string `json:"address,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

type ReportEvent struct {
	ID        string         `json:"id"`
	ReportID  string         `json:"reportId"`
	CreatedAt string         `json:"createdAt"`
	Type      string         `json:"type"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata"`
}

type ReportDetails struct {
	Report Report        `json:"report"`
	Events []ReportEvent `json:"events"`
}

type ReportSummary struct {
	Total             int    `json:"total"`
	Pending           int    `json:"pending"`
	Ongoing           int    `json:"ongoing"`
	Solved            int    `json:"solved"`
	Unsolved          int    `json:"unsolved"`
	MostCommonOffense string `json:"mostCommonOffense"`
}

type OperatorSession struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func main() {
	if err := loadDotEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// newApp opens the configured store and builds the outbound clients. The
// caller owns the returned App and must call Close.
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			logger.Error("sentry init failed", "err", err)
		} else {
			logger.Info("sentry initialized")
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	geocoder, err := newGeocoder(cfg, logger)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
		logger.Info("mailer initialized", "provider", "resend")
	} else {
		mailProvider = mailer.NewLogProvider(logger)
		logger.Info("mailer initialized", "provider", "log")
	}

	app := &App{
		cfg:         cfg,
		store:       store,
		log:         logger,
		catalog:     catalog.Default(),
		now:         time.Now,
		geocoder:    geocoder,
		mailer:      mailer.New(mailProvider, cfg.MailerFromAddresses[mailProvider.Name()]),
		imports:     newImportStaging(cfg.ImportBatchTTL),
		rateBuckets: make(map[string]rateBucket),
	}

	logger.Info(
		"runtime configuration",
		"env", cfg.Env,
		"addr", cfg.Addr,
		"store", cfg.StoreBackend,
		"timezone", cfg.Timezone,
		"geocoder", cfg.GeocoderProvider,
	)
	return app, nil
}

// Close waits for background work and releases the store.
func (a *App) Close(ctx context.Context) error {
	a.background.Wait()
	sentry.Flush(sentryFlushTimeout)
	return a.store.Close(ctx)
}

func (a *App) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *App) location() *time.Location {
	if a.cfg != nil && a.cfg.Location != nil {
		return a.cfg.Location
	}
	return time.UTC
}

func (a *App) today() string {
	return a.clock().In(a.location()).Format("2006-01-02")
}

func (a *App) normalizer() *intake.Normalizer {
	return &intake.Normalizer{Now: a.clock, Location: a.location(), Catalog: a.catalog}
}

func (a *App) bootstrapOperator(ctx context.Context) error {
	email := normalizeOperatorEmail(a.cfg.BootstrapOperatorEmail)
	password := a.cfg.BootstrapOperatorPassword
	if email == "" || password == "" {
		a.log.Info("bootstrap operator not configured")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := a.store.EnsureOperator(ctx, email, string(hash), a.cfg.BootstrapOperatorRole); err != nil {
		return err
	}

	a.log.Info("bootstrap operator ensured", "email", email, "role", a.cfg.BootstrapOperatorRole)
	return nil
}

func (a *App) routes() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		panic(err)
	}
	r.Use(gin.Recovery())
	r.Use(a.loggingMiddleware())
	r.Use(a.corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.GET("/catalog", a.catalogHandler)

		opAuth := api.Group("/operator/auth")
		{
			opAuth.POST("/login", a.operatorLoginHandler)
			opAuth.POST("/logout", a.operatorLogoutHandler)
			opAuth.GET("/session", a.operatorSessionHandler)
		}

		op := api.Group("/operator")
		op.Use(a.requireOperatorSession())
		{
			op.POST("/imports", a.createImportHandler)
			op.GET("/imports", a.listImportsHandler)
			op.GET("/imports/:batch_id", a.importBatchHandler)
			op.DELETE("/imports/:batch_id", a.discardImportHandler)
			op.GET("/imports/:batch_id/export", a.exportImportHandler)
			op.PUT("/imports/:batch_id/rows/:row", a.updateImportRowHandler)
			op.POST("/imports/:batch_id/rows/:row/accept", a.acceptImportRowHandler)
			op.POST("/imports/:batch_id/rows/:row/reject", a.rejectImportRowHandler)

			op.POST("/reports", a.createReportHandler)
			op.POST("/reports/manual", a.fileManualReportHandler)
			op.GET("/reports", a.operatorReportsHandler)
			op.GET("/reports/summary", a.reportSummaryHandler)
			op.GET("/reports/next-blotter", a.nextBlotterHandler)
			op.GET("/reports/export", a.requireRole("admin"), a.exportReportsHandler)
			op.GET("/reports/:public_id", a.operatorReportDetailsHandler)
			op.POST("/reports/:public_id/status", a.operatorUpdateStatusHandler)

			op.GET("/geocode", a.geocodeHandler)
		}
	}
	return r
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

func (a *App) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if a.isAllowedCORSOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *App) isAllowedCORSOrigin(origin string) bool {
	if origin == "" || a.cfg == nil {
		return false
	}
	if a.cfg.PublicBaseURL != "" && origin == a.cfg.PublicBaseURL {
		return true
	}
	if !strings.EqualFold(a.cfg.Env, "development") {
		return false
	}
	return origin == devCORSOriginLocalhost || origin == devCORSOriginLoopback
}

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Code, "message": apiErr.Message})
		return
	}
	if errors.Is(err, errReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report_not_found", "message": "Report not found"})
		return
	}

	sentry.CaptureException(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
