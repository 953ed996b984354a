package processors

import (
	"strings"
	"sync"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/pipeline"
)

type RecoveryConfig struct {
	MaxAttempts int
	PromptText  string
	Phrases     []string
}

// RecoveryProcessor injects a clarification prompt when the agent signals confusion/fallback.
type RecoveryProcessor struct {
	cfg    RecoveryConfig
	mu     sync.Mutex
	counts map[string]int
}

func NewRecoveryProcessor(cfg RecoveryConfig) *RecoveryProcessor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.PromptText == "" {
		cfg.PromptText = "Sorry, I didn't catch that. Could you say it again briefly?"
	}
	if len(cfg.Phrases) == 0 {
		cfg.Phrases = []string{
			"could you repeat",
			"i didn't understand",
			"i did not understand",
			"i'm not sure what you mean",
		}
	}
	return &RecoveryProcessor{
		cfg:    cfg,
		counts: make(map[string]int),
	}
}

func (r *RecoveryProcessor) Name() string { return "recovery_processor" }

func (r *RecoveryProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	streamID := f.Meta()[frames.MetaStreamID]
	if streamID == "" {
		return []frames.Frame{f}, nil
	}
	switch f.Kind() {
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		if sf.Name() == "call_end" {
			r.reset(streamID)
		}
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlFallback {
			if r.bump(streamID) {
				meta := cf.Meta()
				meta[frames.MetaSource] = "system"
				meta[frames.MetaRecoveryReason] = "fallback"
				prompt := frames.NewTextFrame(streamID, cf.PTS(), r.cfg.PromptText, meta)
				return []frames.Frame{prompt, f}, nil
			}
		}
	case frames.KindText:
		tf := f.(frames.TextFrame)
		meta := tf.Meta()
		if meta[frames.MetaSource] == "llm" {
			if r.isConfusion(tf.Text()) {
				if r.bump(streamID) {
					meta[frames.MetaSource] = "system"
					meta[frames.MetaRecoveryReason] = "confusion"
					prompt := frames.NewTextFrame(streamID, tf.PTS(), r.cfg.PromptText, meta)
					return []frames.Frame{prompt}, nil
				}
			} else {
				r.reset(streamID)
			}
		}
	}
	return []frames.Frame{f}, nil
}

func (r *RecoveryProcessor) isConfusion(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, p := range r.cfg.Phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func (r *RecoveryProcessor) bump(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[streamID]++
	return r.counts[streamID] <= r.cfg.MaxAttempts
}

func (r *RecoveryProcessor) reset(streamID string) {
	r.mu.Lock()
	delete(r.counts, streamID)
	r.mu.Unlock()
}

var _ pipeline.FrameProcessor = (*RecoveryProcessor)(nil)
