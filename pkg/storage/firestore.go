package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every site keeps its documents under sites/{siteID}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// NewFirestore returns an uninitialized provider for the project and
// database. Init must be called before use.
func NewFirestore(projectID, database string) *FirestoreProvider {
	return &FirestoreProvider{projectID: projectID, database: database}
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// jsonField returns the "json" string field of a document.
func jsonField(ctx context.Context, doc *firestore.DocumentSnapshot, siteID string) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
		return "", fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
		return "", fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	return jsonStr, nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	jsonStr, err := jsonField(ctx, doc, siteID)
	if err != nil {
		return types.Settings{}, 0, err
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

type tariffDoc struct {
	JSON      string    `firestore:"json"`
	Label     string    `firestore:"label"`
	UtilityID string    `firestore:"utilityID"`
	FetchedAt time.Time `firestore:"fetchedAt"`
}

// GetTariff retrieves the last good rate document from "config/tariff".
func (f *FirestoreProvider) GetTariff(ctx context.Context, siteID string) (types.TariffRecord, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.TariffRecord{}, err
	}
	doc, err := coll.Doc("tariff").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.TariffRecord{}, ErrTariffNotFound
		}
		return types.TariffRecord{}, fmt.Errorf("failed to fetch tariff doc: %w", err)
	}

	var fields tariffDoc
	if err := doc.DataTo(&fields); err != nil {
		return types.TariffRecord{}, fmt.Errorf("failed to read tariff doc: %w", err)
	}
	if fields.JSON == "" {
		return types.TariffRecord{}, fmt.Errorf("document %s missing 'json' field", doc.Ref.ID)
	}
	return types.TariffRecord{
		Label:     fields.Label,
		UtilityID: fields.UtilityID,
		FetchedAt: fields.FetchedAt,
		Document:  []byte(fields.JSON),
	}, nil
}

// SaveTariff stores the rate document in "config/tariff", replacing any
// previous one.
func (f *FirestoreProvider) SaveTariff(ctx context.Context, siteID string, record types.TariffRecord) error {
	if len(record.Document) == 0 {
		return fmt.Errorf("tariff record has no document")
	}
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("tariff").Set(ctx, tariffDoc{
		JSON:      string(record.Document),
		Label:     record.Label,
		UtilityID: record.UtilityID,
		FetchedAt: record.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save tariff: %w", err)
	}
	return nil
}

// GetDeviceScan retrieves the last device scan from "config/devices".
func (f *FirestoreProvider) GetDeviceScan(ctx context.Context, siteID string) (types.DeviceScan, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.DeviceScan{}, err
	}
	doc, err := coll.Doc("devices").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.DeviceScan{}, ErrDeviceScanNotFound
		}
		return types.DeviceScan{}, fmt.Errorf("failed to fetch device scan doc: %w", err)
	}
	jsonStr, err := jsonField(ctx, doc, siteID)
	if err != nil {
		return types.DeviceScan{}, err
	}
	var scan types.DeviceScan
	if err := json.Unmarshal([]byte(jsonStr), &scan); err != nil {
		return types.DeviceScan{}, fmt.Errorf("failed to unmarshal device scan: %w", err)
	}
	return scan, nil
}

// SaveDeviceScan stores the scan in "config/devices", replacing any
// previous one.
func (f *FirestoreProvider) SaveDeviceScan(ctx context.Context, siteID string, scan types.DeviceScan) error {
	jsonBytes, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("failed to marshal device scan: %w", err)
	}
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("devices").Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"scannedAt": scan.ScannedAt,
		"count":     len(scan.Devices),
	})
	if err != nil {
		return fmt.Errorf("failed to save device scan: %w", err)
	}
	return nil
}

// UpsertPrices adds or updates resolved price records in the
// "price_history" collection. The document ID is the RFC3339 start time so
// range queries can use document IDs.
func (f *FirestoreProvider) UpsertPrices(ctx context.Context, siteID string, prices []types.Price) error {
	if len(prices) == 0 {
		return nil
	}
	coll, err := f.getCollection(siteID, "price_history")
	if err != nil {
		return err
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(prices))
	for _, price := range prices {
		jsonBytes, err := json.Marshal(price)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to marshal price: %w", err)
		}
		docID := price.TSStart.UTC().Format(time.RFC3339)
		job, err := bw.Set(coll.Doc(docID), map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": price.TSStart,
			"tier":      price.Tier,
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue price %s: %w", docID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to upsert price: %w", err)
		}
	}
	return nil
}

// GetPriceHistory retrieves price records within the specified time range for a site.
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetPriceHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Price, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(siteID, "price_history")
	if err != nil {
		return nil, err
	}

	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var prices []types.Price
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating prices: %w", err)
		}

		jsonStr, err := jsonField(ctx, doc, siteID)
		if err != nil {
			return nil, err
		}

		var p types.Price
		if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal price", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal price (id=%s): %w", doc.Ref.ID, err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// GetLatestPriceHistoryTime retrieves the start of the last stored price record for a site.
func (f *FirestoreProvider) GetLatestPriceHistoryTime(ctx context.Context, siteID string) (time.Time, error) {
	coll, err := f.getCollection(siteID, "price_history")
	if err != nil {
		return time.Time{}, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest price doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid price doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}
