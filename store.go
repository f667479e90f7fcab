package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blotterdesk/internal/intake"
)

var (
	errReportNotFound     = errors.New("report not found")
	errDuplicateBlotter   = errors.New("blotter number already used")
	errDuplicatePublicID  = errors.New("public id already used")
	errUnknownStoreDriver = errors.New("unknown store backend")
)

// ReportStore persists reports, their event log and operator accounts.
// Reports are addressed by their public id everywhere outside the store.
type ReportStore interface {
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error

	EnsureOperator(ctx context.Context, email, passwordHash, role string) error
	// FindOperator returns nil when no operator has the given email.
	FindOperator(ctx context.Context, email string) (*OperatorCredentials, error)

	CreateReport(ctx context.Context, input NewReport) (*Report, error)
	GetReport(ctx context.Context, publicID string) (*Report, error)
	ListReports(ctx context.Context, filters ReportFilters) ([]Report, error)
	ListReportsPage(ctx context.Context, filters ReportFilters, page, pageSize int) (*ReportPage, error)
	ListBlotterNumbers(ctx context.Context, prefix string) ([]string, error)
	UpdateReportStatus(ctx context.Context, publicID, fromStatus, toStatus, actor string) error
	SetReportAddress(ctx context.Context, publicID, address string) error
	ListEvents(ctx context.Context, publicID string) ([]ReportEvent, error)
}

type OperatorCredentials struct {
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
}

type NewReport struct {
	Record        intake.Record
	PublicID      string
	BlotterNo     string
	DateEncoded   string
	Source        string
	ImportBatchID *string
	CreatedBy     string
}

// ReportFilters narrows dashboard listings. Empty fields do not filter.
// From and To bound dateCommitted (YYYY-MM-DD, inclusive).
type ReportFilters struct {
	Search      string
	Offense     string
	Offenses    []string
	Barangay    string
	Status      string
	Source      string
	From        string
	To          string
	CreatedFrom *time.Time
}

type ReportPage struct {
	Reports     []Report `json:"reports"`
	TotalCount  int      `json:"totalCount"`
	TotalPages  int      `json:"totalPages"`
	CurrentPage int      `json:"page"`
	PageSize    int      `json:"pageSize"`
}

func newReportPage(reports []Report, totalCount, page, pageSize int) *ReportPage {
	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + pageSize - 1) / pageSize
	}
	if reports == nil {
		reports = []Report{}
	}
	return &ReportPage{
		Reports:     reports,
		TotalCount:  totalCount,
		TotalPages:  totalPages,
		CurrentPage: page,
		PageSize:    pageSize,
	}
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (ReportStore, error) {
	switch cfg.StoreBackend {
	case storeBackendPostgres:
		return openPostgresStore(ctx, cfg.DatabaseURL, logger)
	case storeBackendMongo:
		return openMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownStoreDriver, cfg.StoreBackend)
	}
}
