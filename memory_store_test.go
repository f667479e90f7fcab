package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"blotterdesk/internal/catalog"
	"blotterdesk/internal/intake"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const testSigningSecret = "0123456789abcdef-test"

// memoryStore is a ReportStore backed by maps, mirroring the SQL store's
// filter and ordering rules.
type memoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	reports   []*memoryReport
	events    map[string][]ReportEvent
	operators map[string]OperatorCredentials
	nextEvent int

	// createHook runs before each insert; a non-nil error aborts it.
	createHook func(input NewReport) error
}

type memoryReport struct {
	report    Report
	createdAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:       time.Now,
		events:    make(map[string][]ReportEvent),
		operators: make(map[string]OperatorCredentials),
	}
}

func (s *memoryStore) Migrate(context.Context) error { return nil }
func (s *memoryStore) Close(context.Context) error   { return nil }

func (s *memoryStore) EnsureOperator(_ context.Context, email, passwordHash, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = normalizeOperatorEmail(email)
	s.operators[email] = OperatorCredentials{Email: email, PasswordHash: passwordHash, Role: role, IsActive: true}
	return nil
}

func (s *memoryStore) FindOperator(_ context.Context, email string) (*OperatorCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.operators[normalizeOperatorEmail(email)]
	if !ok {
		return nil, nil
	}
	return &creds, nil
}

func (s *memoryStore) CreateReport(_ context.Context, input NewReport) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createHook != nil {
		if err := s.createHook(input); err != nil {
			return nil, err
		}
	}
	for _, existing := range s.reports {
		if existing.report.BlotterNo == input.BlotterNo {
			return nil, errDuplicateBlotter
		}
		if existing.report.PublicID == input.PublicID {
			return nil, errDuplicatePublicID
		}
	}

	now := s.now().UTC()
	report := Report{
		Record:        input.Record,
		PublicID:      input.PublicID,
		BlotterNo:     input.BlotterNo,
		DateEncoded:   input.DateEncoded,
		Source:        input.Source,
		ImportBatchID: input.ImportBatchID,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now.Format(time.RFC3339),
		UpdatedAt:     now.Format(time.RFC3339),
	}
	s.reports = append(s.reports, &memoryReport{report: report, createdAt: now})
	s.addEvent(input.PublicID, "created", input.CreatedBy, createdEventMetadata(input), now)
	out := report
	return &out, nil
}

func (s *memoryStore) addEvent(publicID, eventType, actor string, metadata map[string]any, at time.Time) {
	s.nextEvent++
	s.events[publicID] = append(s.events[publicID], ReportEvent{
		ID:        fmt.Sprint(s.nextEvent),
		ReportID:  publicID,
		CreatedAt: at.Format(time.RFC3339),
		Type:      eventType,
		Actor:     actor,
		Metadata:  metadata,
	})
}

func (s *memoryStore) find(publicID string) *memoryReport {
	for _, entry := range s.reports {
		if entry.report.PublicID == publicID {
			return entry
		}
	}
	return nil
}

func (s *memoryStore) GetReport(_ context.Context, publicID string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.find(publicID)
	if entry == nil {
		return nil, errReportNotFound
	}
	out := entry.report
	return &out, nil
}

func (s *memoryStore) matching(filters ReportFilters) []Report {
	search := strings.ToLower(strings.TrimSpace(filters.Search))
	out := []Report{}
	for _, entry := range s.reports {
		r := entry.report
		if search != "" {
			haystack := []string{r.Victim.Name, r.Suspect.Name, r.Offense, r.Narrative, r.BlotterNo, r.Street}
			found := false
			for _, value := range haystack {
				if strings.Contains(strings.ToLower(value), search) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if filters.Offense != "" && !strings.EqualFold(r.Offense, filters.Offense) {
			continue
		}
		if filters.Offenses != nil && !containsString(filters.Offenses, r.Offense) {
			continue
		}
		if filters.Barangay != "" && !strings.EqualFold(r.Barangay, filters.Barangay) {
			continue
		}
		if filters.Status != "" && !strings.EqualFold(r.Status, filters.Status) {
			continue
		}
		if filters.Source != "" && r.Source != filters.Source {
			continue
		}
		if filters.From != "" && r.DateCommitted < filters.From {
			continue
		}
		if filters.To != "" && r.DateCommitted > filters.To {
			continue
		}
		if filters.CreatedFrom != nil && entry.createdAt.Before(*filters.CreatedFrom) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DateCommitted != out[j].DateCommitted {
			return out[i].DateCommitted > out[j].DateCommitted
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func (s *memoryStore) ListReports(_ context.Context, filters ReportFilters) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matching(filters), nil
}

func (s *memoryStore) ListReportsPage(_ context.Context, filters ReportFilters, page, pageSize int) (*ReportPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.matching(filters)
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return newReportPage(all[start:end], len(all), page, pageSize), nil
}

func (s *memoryStore) ListBlotterNumbers(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, entry := range s.reports {
		if strings.HasPrefix(entry.report.BlotterNo, prefix) {
			out = append(out, entry.report.BlotterNo)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateReportStatus(_ context.Context, publicID, fromStatus, toStatus, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.find(publicID)
	if entry == nil {
		return errReportNotFound
	}
	entry.report.Status = toStatus
	s.addEvent(publicID, "status_changed", actor, map[string]any{"from": fromStatus, "status": toStatus}, s.now().UTC())
	return nil
}

func (s *memoryStore) SetReportAddress(_ context.Context, publicID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.find(publicID)
	if entry == nil {
		return errReportNotFound
	}
	entry.report.Address = &address
	return nil
}

func (s *memoryStore) ListEvents(_ context.Context, publicID string) ([]ReportEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(publicID) == nil {
		return nil, errReportNotFound
	}
	return append([]ReportEvent{}, s.events[publicID]...), nil
}

// fixedClock is 2024-03-15 10:00 in Asia/Manila.
func fixedClock() time.Time {
	manila, _ := time.LoadLocation("Asia/Manila")
	return time.Date(2024, 3, 15, 10, 0, 0, 0, manila)
}

func newTestApp(t *testing.T) (*App, *memoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	store := newMemoryStore()
	store.now = fixedClock
	app := &App{
		cfg: &Config{
			Env:              "test",
			AppSigningSecret: testSigningSecret,
			PublicBaseURL:    "https://blotter.example",
			DataRoot:         t.TempDir(),
			Timezone:         "Asia/Manila",
			Location:         manila,
			ImportMaxBytes:   defaultImportMaxBytes,
			ImportBatchTTL:   defaultImportBatchTTL,
		},
		store:       store,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		catalog:     catalog.Default(),
		now:         fixedClock,
		imports:     newImportStaging(defaultImportBatchTTL),
		rateBuckets: make(map[string]rateBucket),
	}
	return app, store
}

func (a *App) testSessionCookie(t *testing.T, session OperatorSession) *http.Cookie {
	t.Helper()
	token, err := a.createOperatorSessionToken(session)
	if err != nil {
		t.Fatalf("create session token: %v", err)
	}
	return &http.Cookie{Name: operatorCookieName, Value: token}
}

// serve runs req through the full router, optionally as session.
func (a *App) serve(t *testing.T, req *http.Request, session *OperatorSession) *httptest.ResponseRecorder {
	t.Helper()
	if session != nil {
		req.AddCookie(a.testSessionCookie(t, *session))
	}
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	return rec
}

var (
	staffSession = OperatorSession{Email: "staff@station.example", Role: "staff"}
	adminSession = OperatorSession{Email: "admin@station.example", Role: "admin"}
)

func seedOperator(t *testing.T, store *memoryStore, email, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := store.EnsureOperator(context.Background(), email, string(hash), role); err != nil {
		t.Fatalf("ensure operator: %v", err)
	}
}

func sampleRecord(offense, barangay, status, dateCommitted string) intake.Record {
	rec := intake.Record{
		Barangay:      barangay,
		Street:        "Alabang-Zapote Road",
		TypeOfPlace:   "Along the street",
		DateCommitted: dateCommitted,
		Offense:       offense,
		Narrative:     "Victim reported the incident at the desk.",
		Status:        status,
		Victim:        intake.Victim{Name: "Juan Dela Cruz"},
		Suspect:       intake.Suspect{Name: "Pedro Santos"},
	}
	return rec.WithDefaults("2024-03-15")
}

func seedReport(t *testing.T, store *memoryStore, blotterNo, source string, rec intake.Record) Report {
	t.Helper()
	created, err := store.CreateReport(context.Background(), NewReport{
		Record:      rec,
		PublicID:    generatePublicID(),
		BlotterNo:   blotterNo,
		DateEncoded: "2024-03-15 09:00",
		Source:      source,
		CreatedBy:   staffSession.Email,
	})
	if err != nil {
		t.Fatalf("seed report: %v", err)
	}
	return *created
}
