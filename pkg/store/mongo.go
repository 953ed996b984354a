package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/timeutil"
)

const (
	databaseName   = "ivrbot"
	collectionName = "costlogs"
)

type inserter interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Store writes the teardown record. Both sinks are best-effort: the
// caller logs failures and moves on, the call outcome never depends on
// persistence.
type Store struct {
	collection inserter
	legacyURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Connect opens the Mongo client. An empty URI disables the Mongo sink
// rather than failing startup.
func Connect(ctx context.Context, uri, legacyURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		legacyURL:  legacyURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	if uri == "" {
		logger.Info("mongo_disabled", "reason", "uri not configured")
		return s, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonPersistMongo)
	}
	s.collection = client.Database(databaseName).Collection(collectionName)
	return s, nil
}

// SaveCallRecord inserts into costlogs and mirrors to the legacy API.
// Each sink fails independently; the first error is returned so the
// teardown path can log it.
func (s *Store) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	var firstErr error
	if s.collection != nil {
		if _, err := s.collection.InsertOne(ctx, rec); err != nil {
			firstErr = errorsx.Wrap(err, errorsx.ReasonPersistMongo)
			s.logger.Error("costlog_insert_failed", "call_sid", rec.CallSID, "error", err)
		} else {
			s.logger.Info("costlog_inserted", "call_sid", rec.CallSID, "total_cost", rec.Cost.Total)
		}
	}
	if err := s.postLegacy(ctx, rec); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("legacy_cost_post_failed", "call_sid", rec.CallSID, "error", err)
	}
	return firstErr
}

// legacyPayload is what the pre-Mongo cost endpoint still expects.
type legacyPayload struct {
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	CallSID   string         `json:"call_sid"`
	Cost      float64        `json:"cost"`
	History   []HistoryEntry `json:"conversation_history"`
}

func (s *Store) postLegacy(ctx context.Context, rec CallRecord) error {
	if s.legacyURL == "" {
		return nil
	}
	body, err := json.Marshal(legacyPayload{
		StartTime: timeutil.FormatTimestamp(rec.StartTime),
		EndTime:   timeutil.FormatTimestamp(rec.EndTime),
		CallSID:   rec.CallSID,
		Cost:      rec.Cost.Total,
		History:   rec.History,
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonPersistLegacy)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.legacyURL, bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonPersistLegacy)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonPersistLegacy)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return errorsx.New(errorsx.ReasonPersistLegacy, "legacy cost api status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
