// Package store persists the per-call record assembled at teardown:
// one document in the Mongo costlogs collection, plus a best-effort
// POST to the legacy cost API.
package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/sttcheck"
)

// HistoryEntry is one transcript line aligned with its supervisor
// score where one exists (nil for user turns and unscored turns).
// STTCheck carries the transcription plausibility analysis on user
// turns flagged as likely mishearings.
type HistoryEntry struct {
	Speaker       string             `bson:"speaker" json:"speaker"`
	Transcription string             `bson:"transcription" json:"transcription"`
	Timestamp     string             `bson:"timestamp" json:"timestamp"`
	Score         *float64           `bson:"score,omitempty" json:"score,omitempty"`
	STTCheck      *sttcheck.Analysis `bson:"stt_check,omitempty" json:"stt_check,omitempty"`
}

// WebSearchTokens mirrors the websearch stream inside the tokens block.
type WebSearchTokens struct {
	InputTokens  int64  `bson:"input_tokens" json:"input_tokens"`
	OutputTokens int64  `bson:"output_tokens" json:"output_tokens"`
	Model        string `bson:"model" json:"model"`
}

// Tokens is the token block of the persisted record.
type Tokens struct {
	Agent      int64           `bson:"agent" json:"agent"`
	Supervisor int64           `bson:"supervisor" json:"supervisor"`
	WebSearch  WebSearchTokens `bson:"websearch" json:"websearch"`
	Total      int64           `bson:"total" json:"total"`
}

// AudioUsage is the audio block of the persisted record.
type AudioUsage struct {
	STT ledger.AudioStream `bson:"stt" json:"stt"`
	TTS ledger.AudioStream `bson:"tts" json:"tts"`
}

// CallRecord is the costlogs document.
type CallRecord struct {
	User            primitive.ObjectID `bson:"user" json:"user"`
	CallSID         string             `bson:"call_sid" json:"call_sid"`
	PhoneNumber     string             `bson:"phone_number" json:"phone_number"`
	CallSIDNew      string             `bson:"call_sid_new" json:"call_sid_new"`
	XCallID         string             `bson:"x_call_id" json:"x_call_id"`
	RecordingURL    string             `bson:"recording_url" json:"recording_url"`
	StartTime       time.Time          `bson:"start_time" json:"start_time"`
	EndTime         time.Time          `bson:"end_time" json:"end_time"`
	DurationSeconds float64            `bson:"duration_seconds" json:"duration_seconds"`
	Tokens          Tokens             `bson:"tokens" json:"tokens"`
	AudioUsage      AudioUsage         `bson:"audio_usage" json:"audio_usage"`
	Cost            ledger.Cost        `bson:"cost" json:"cost"`
	History         []HistoryEntry     `bson:"conversation_history" json:"conversation_history"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

// BuildRecord folds a settled ledger snapshot into the document shape.
func BuildRecord(snap ledger.Snapshot, userID primitive.ObjectID, callSID, phone, callSIDNew, xCallID, recordingURL string, start, end time.Time, history []HistoryEntry) CallRecord {
	return CallRecord{
		User:            userID,
		CallSID:         callSID,
		PhoneNumber:     phone,
		CallSIDNew:      callSIDNew,
		XCallID:         xCallID,
		RecordingURL:    recordingURL,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		Tokens: Tokens{
			Agent:      snap.Agent.Total(),
			Supervisor: snap.Supervisor.Total(),
			WebSearch: WebSearchTokens{
				InputTokens:  snap.WebSearch.InputTokens,
				OutputTokens: snap.WebSearch.OutputTokens,
				Model:        snap.WebSearch.Model,
			},
			Total: snap.TotalTokens(),
		},
		AudioUsage: AudioUsage{STT: snap.STT, TTS: snap.TTS},
		Cost:       snap.Cost,
		History:    history,
		CreatedAt:  time.Now(),
	}
}

// RecordingURL renders the conventional path of the telephony
// subsystem's recording for a call. The file itself is produced
// elsewhere; this service only references it.
func RecordingURL(baseURL, caller, xCallID string) string {
	if baseURL == "" || xCallID == "" {
		return ""
	}
	return baseURL + "/recordings-" + caller + "/CALLIN-" + xCallID + "-" + caller + ".gsm"
}
