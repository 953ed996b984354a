package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/ledger"
)

type fakeInserter struct {
	docs []any
	err  error
}

func (f *fakeInserter) InsertOne(_ context.Context, doc any, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: primitive.NewObjectID()}, nil
}

func sampleSnapshot() ledger.Snapshot {
	reg := ledger.NewRegistry()
	l := reg.Ledger("CA77")
	l.AddAgentTokens("gpt-4.1-mini", 10000, 2000)
	l.AddSupervisorTokens("gpt-4o-mini", 3000, 500)
	l.AddWebSearchTokens("gpt-4o", 1200, 300)
	l.AddSTTSeconds("openai", "gpt-4o-transcribe", 180)
	l.AddTTSCharacters("deepgram", "aura-asteria-en", 4500)
	return l.Settle()
}

func TestBuildRecord(t *testing.T) {
	snap := sampleSnapshot()
	user := primitive.NewObjectID()
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(3*time.Minute + 20*time.Second)

	rec := BuildRecord(snap, user, "CA77", "+13015551234", "CA77-new", "X99", "http://rec/r.gsm", start, end, nil)

	assert.Equal(t, user, rec.User)
	assert.Equal(t, 200.0, rec.DurationSeconds)
	assert.Equal(t, int64(12000), rec.Tokens.Agent)
	assert.Equal(t, int64(3500), rec.Tokens.Supervisor)
	assert.Equal(t, int64(1200), rec.Tokens.WebSearch.InputTokens)
	assert.Equal(t, "gpt-4o", rec.Tokens.WebSearch.Model)
	assert.Equal(t, int64(17000), rec.Tokens.Total)
	assert.Equal(t, 180.0, rec.AudioUsage.STT.AudioSeconds)
	assert.Equal(t, int64(4500), rec.AudioUsage.TTS.Characters)
	assert.Equal(t, snap.Cost.Total, rec.Cost.Total)
}

func TestRecordingURL(t *testing.T) {
	got := RecordingURL("http://pbx/recordings", "13015551234", "X42")
	assert.Equal(t, "http://pbx/recordings/recordings-13015551234/CALLIN-X42-13015551234.gsm", got)
	assert.Empty(t, RecordingURL("", "13015551234", "X42"))
	assert.Empty(t, RecordingURL("http://pbx", "13015551234", ""))
}

func TestSaveCallRecordInsertsAndPostsLegacy(t *testing.T) {
	var legacyBody legacyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&legacyBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	fake := &fakeInserter{}
	s := &Store{
		collection: fake,
		legacyURL:  srv.URL,
		httpClient: srv.Client(),
		logger:     slog.New(slog.DiscardHandler),
	}

	rec := BuildRecord(sampleSnapshot(), primitive.NewObjectID(), "CA77", "+13015551234", "", "X99", "",
		time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC),
		[]HistoryEntry{{Speaker: "Agent", Transcription: "hi"}})

	require.NoError(t, s.SaveCallRecord(context.Background(), rec))
	assert.Len(t, fake.docs, 1)
	assert.Equal(t, "CA77", legacyBody.CallSID)
	assert.Equal(t, rec.Cost.Total, legacyBody.Cost)
}

func TestSaveCallRecordLegacyFailureReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fake := &fakeInserter{}
	s := &Store{
		collection: fake,
		legacyURL:  srv.URL,
		httpClient: srv.Client(),
		logger:     slog.New(slog.DiscardHandler),
	}

	err := s.SaveCallRecord(context.Background(), CallRecord{CallSID: "CA1"})
	assert.Error(t, err)
	// Mongo insert still happened.
	assert.Len(t, fake.docs, 1)
}

func TestSaveCallRecordWithoutSinks(t *testing.T) {
	s := &Store{logger: slog.New(slog.DiscardHandler), httpClient: http.DefaultClient}
	assert.NoError(t, s.SaveCallRecord(context.Background(), CallRecord{}))
}
