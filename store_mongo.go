package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"blotterdesk/internal/intake"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoReportsCollection   = "reports"
	mongoEventsCollection    = "report_events"
	mongoOperatorsCollection = "operators"
)

// mongoStore keeps reports and their events in separate collections. Writes
// that touch both are not transactional; the event insert follows the report
// write.
type mongoStore struct {
	client   *mongo.Client
	database string
	log      *slog.Logger
}

type reportDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	intake.Record `bson:",inline"`
	PublicID      string    `bson:"public_id"`
	BlotterNo     string    `bson:"blotter_no"`
	DateEncoded   string    `bson:"date_encoded"`
	Source        string    `bson:"source"`
	ImportBatchID *string   `bson:"import_batch_id,omitempty"`
	CreatedBy     string    `bson:"created_by"`
	Address       *string   `bson:"address,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d reportDocument) report() Report {
	return Report{
		Record:        d.Record,
		PublicID:      d.PublicID,
		BlotterNo:     d.BlotterNo,
		DateEncoded:   d.DateEncoded,
		Source:        d.Source,
		ImportBatchID: d.ImportBatchID,
		CreatedBy:     d.CreatedBy,
		Address:       d.Address,
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type eventDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	PublicID  string             `bson:"public_id"`
	Type      string             `bson:"type"`
	Actor     string             `bson:"actor"`
	Metadata  map[string]any     `bson:"metadata"`
	CreatedAt time.Time          `bson:"created_at"`
}

type operatorDocument struct {
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	IsActive     bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func openMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*mongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &mongoStore{client: client, database: database, log: logger}, nil
}

func (m *mongoStore) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *mongoStore) Close(ctx context.Context) error {
	m.log.Info("closing mongo db connections")
	return m.client.Disconnect(ctx)
}

func (m *mongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		mongoReportsCollection: {
			{Keys: bson.D{{Key: "public_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "blotter_no", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "date_committed", Value: -1}}},
		},
		mongoEventsCollection: {
			{Keys: bson.D{{Key: "public_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		mongoOperatorsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
		m.log.Info("ensured mongo indexes", "collection", name, "count", len(models))
	}
	return nil
}

func (m *mongoStore) EnsureOperator(ctx context.Context, email, passwordHash, role string) error {
	now := time.Now().UTC()
	_, err := m.collection(mongoOperatorsCollection).UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set": bson.M{
				"password_hash": passwordHash,
				"role":          role,
				"is_active":     true,
				"updated_at":    now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) FindOperator(ctx context.Context, email string) (*OperatorCredentials, error) {
	var doc operatorDocument
	err := m.collection(mongoOperatorsCollection).FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &OperatorCredentials{Email: doc.Email, PasswordHash: doc.PasswordHash, Role: doc.Role, IsActive: doc.IsActive}, nil
}

func (m *mongoStore) CreateReport(ctx context.Context, input NewReport) (*Report, error) {
	now := time.Now().UTC()
	doc := reportDocument{
		Record:        input.Record,
		PublicID:      input.PublicID,
		BlotterNo:     input.BlotterNo,
		DateEncoded:   input.DateEncoded,
		Source:        input.Source,
		ImportBatchID: input.ImportBatchID,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := m.collection(mongoReportsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "blotter_no") {
				return nil, fmt.Errorf("%w: %s", errDuplicateBlotter, input.BlotterNo)
			}
			return nil, errDuplicatePublicID
		}
		return nil, err
	}
	if err := m.addEvent(ctx, input.PublicID, "created", input.CreatedBy, createdEventMetadata(input)); err != nil {
		return nil, err
	}
	report := doc.report()
	return &report, nil
}

func (m *mongoStore) addEvent(ctx context.Context, publicID, eventType, actor string, metadata map[string]any) error {
	_, err := m.collection(mongoEventsCollection).InsertOne(ctx, eventDocument{
		PublicID:  publicID,
		Type:      eventType,
		Actor:     actor,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

func (m *mongoStore) GetReport(ctx context.Context, publicID string) (*Report, error) {
	var doc reportDocument
	err := m.collection(mongoReportsCollection).FindOne(ctx, bson.M{"public_id": publicID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errReportNotFound
		}
		return nil, err
	}
	report := doc.report()
	return &report, nil
}

func (m *mongoStore) ListReports(ctx context.Context, filters ReportFilters) ([]Report, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date_committed", Value: -1}, {Key: "created_at", Value: -1}})
	return m.findReports(ctx, buildMongoReportFilter(filters), opts)
}

func (m *mongoStore) ListReportsPage(ctx context.Context, filters ReportFilters, page, pageSize int) (*ReportPage, error) {
	page, pageSize = clampPage(page, pageSize)
	filter := buildMongoReportFilter(filters)

	total, err := m.collection(mongoReportsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date_committed", Value: -1}, {Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	reports, err := m.findReports(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return newReportPage(reports, int(total), page, pageSize), nil
}

func (m *mongoStore) findReports(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Report, error) {
	cursor, err := m.collection(mongoReportsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []reportDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(docs))
	for _, doc := range docs {
		reports = append(reports, doc.report())
	}
	return reports, nil
}

func (m *mongoStore) ListBlotterNumbers(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"blotter_no": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetProjection(bson.M{"blotter_no": 1})
	cursor, err := m.collection(mongoReportsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		BlotterNo string `bson:"blotter_no"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	numbers := make([]string, 0, len(docs))
	for _, doc := range docs {
		numbers = append(numbers, doc.BlotterNo)
	}
	return numbers, nil
}

func (m *mongoStore) UpdateReportStatus(ctx context.Context, publicID, fromStatus, toStatus, actor string) error {
	result, err := m.collection(mongoReportsCollection).UpdateOne(ctx,
		bson.M{"public_id": publicID},
		bson.M{"$set": bson.M{"status": toStatus, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return errReportNotFound
	}
	return m.addEvent(ctx, publicID, "status_changed", actor, map[string]any{"from": fromStatus, "status": toStatus})
}

func (m *mongoStore) SetReportAddress(ctx context.Context, publicID, address string) error {
	result, err := m.collection(mongoReportsCollection).UpdateOne(ctx,
		bson.M{"public_id": publicID},
		bson.M{"$set": bson.M{"address": address, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return errReportNotFound
	}
	return nil
}

func (m *mongoStore) ListEvents(ctx context.Context, publicID string) ([]ReportEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection(mongoEventsCollection).Find(ctx, bson.M{"public_id": publicID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	events := make([]ReportEvent, 0, len(docs))
	for _, doc := range docs {
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		events = append(events, ReportEvent{
			ID:        doc.ID.Hex(),
			ReportID:  doc.PublicID,
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339),
			Type:      doc.Type,
			Actor:     doc.Actor,
			Metadata:  metadata,
		})
	}
	return events, nil
}

func foldedEquals(value string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(value) + "$", Options: "i"}
}

// buildMongoReportFilter mirrors buildReportFilters for the document store.
func buildMongoReportFilter(filters ReportFilters) bson.M {
	conditions := bson.A{}

	if search := strings.TrimSpace(filters.Search); search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		conditions = append(conditions, bson.M{"$or": bson.A{
			bson.M{"victim.name": pattern},
			bson.M{"suspect.name": pattern},
			bson.M{"offense": pattern},
			bson.M{"narrative": pattern},
			bson.M{"blotter_no": pattern},
			bson.M{"street": pattern},
		}})
	}
	if filters.Offense != "" {
		conditions = append(conditions, bson.M{"offense": foldedEquals(filters.Offense)})
	}
	if filters.Offenses != nil {
		conditions = append(conditions, bson.M{"offense": bson.M{"$in": filters.Offenses}})
	}
	if filters.Barangay != "" {
		conditions = append(conditions, bson.M{"barangay": foldedEquals(filters.Barangay)})
	}
	if filters.Status != "" {
		conditions = append(conditions, bson.M{"status": foldedEquals(filters.Status)})
	}
	if filters.Source != "" {
		conditions = append(conditions, bson.M{"source": filters.Source})
	}
	if filters.From != "" {
		conditions = append(conditions, bson.M{"date_committed": bson.M{"$gte": filters.From}})
	}
	if filters.To != "" {
		conditions = append(conditions, bson.M{"date_committed": bson.M{"$lte": filters.To}})
	}
	if filters.CreatedFrom != nil {
		conditions = append(conditions, bson.M{"created_at": bson.M{"$gte": filters.CreatedFrom.UTC()}})
	}

	if len(conditions) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": conditions}
}
