package processors

import (
	"sync"
	"time"

	"github.com/alinavoice/alina/pkg/aggregators"
	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/pipeline"
	"github.com/alinavoice/alina/pkg/turn"
)

type ContextProcessor struct {
	aggConfig  aggregators.AggregatorConfig
	aggs       map[string]*aggregators.TextAggregator
	basePrompt string
	injected   map[string]bool

	// Speculative buffer integration
	buffer       *ContextBuffer
	turnManager  turn.Manager
	mu           sync.Mutex
	pendingFlush []frames.Frame
}

func NewContextProcessor(cfg aggregators.AggregatorConfig, basePrompt string) *ContextProcessor {
	return &ContextProcessor{
		aggConfig:  cfg,
		aggs:       make(map[string]*aggregators.TextAggregator),
		injected:   make(map[string]bool),
		basePrompt: basePrompt,
	}
}

// SetTurnManager sets the turn manager for event-driven flushing
// When set, the processor will use speculative buffering with event-driven flush
func (p *ContextProcessor) SetTurnManager(tm turn.Manager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turnManager = tm

	// Create buffer with flush handler that stores frames for later emission
	if tm != nil {
		p.buffer = NewContextBuffer(
			ContextBufferOptions{
				MaxBufferSize: 10000,
				StreamID:      "",
			},
			func(content string) error {
				// Create a text frame from the flushed content
				// We'll emit this during the next Process call
				p.mu.Lock()
				defer p.mu.Unlock()

				if content != "" {
					meta := map[string]string{frames.MetaIsFinal: "true"}
					streamID := ""
					if p.buffer != nil {
						streamID = p.buffer.StreamID()
					}
					tf := frames.NewTextFrame(streamID, time.Now().UnixNano(), content, meta)
					p.pendingFlush = append(p.pendingFlush, tf)
				}
				return nil
			},
		)

		// Register buffer as state change listener.
		tm.AddListener(p.buffer)
	}
}

func (p *ContextProcessor) Name() string { return "context_processor" }

func (p *ContextProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	// Check for pending flush frames first
	p.mu.Lock()
	pending := p.pendingFlush
	p.pendingFlush = nil
	p.mu.Unlock()

	var out []frames.Frame

	// Add any pending flush frames
	if len(pending) > 0 {
		// Process pending frames through the aggregator
		for _, pf := range pending {
			if pf.Kind() == frames.KindText {
				tf := pf.(frames.TextFrame)
				if sys := p.buildBasePrompt(tf.Meta()); sys != nil {
					out = append(out, *sys)
				}
				agg := p.aggFor(tf.Meta()[frames.MetaStreamID])
				r, err := agg.Process(tf)
				if err != nil {
					return out, err
				}
				out = append(out, r...)
			}
		}
	}

	if f.Kind() == frames.KindSystem {
		sf := f.(frames.SystemFrame)
		if sf.Name() == "call_end" {
			p.clearScope(sf.Meta())
			p.clearAgg(sf.Meta()[frames.MetaStreamID])
		}
		if sys := p.buildBasePrompt(sf.Meta()); sys != nil {
			return append(out, *sys, f), nil
		}
		if sf.Name() == "call_start" {
			return append(out, f), nil
		}
	}

	if f.Kind() == frames.KindControl {
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlDTMF {
			meta := cf.Meta()
			digit := meta[frames.MetaDTMFDigit]
			if digit != "" {
				text := "DTMF input: " + digit
				meta[frames.MetaSource] = "dtmf"
				meta[frames.MetaIsFinal] = "true"
				tf := frames.NewTextFrame(meta[frames.MetaStreamID], time.Now().UnixNano(), text, meta)
				if sys := p.buildBasePrompt(tf.Meta()); sys != nil {
					out = append(out, *sys)
				}
				agg := p.aggFor(tf.Meta()[frames.MetaStreamID])
				r, err := agg.Process(tf)
				if err != nil {
					return out, err
				}
				out = append(out, r...)
				out = append(out, f)
				return out, nil
			}
		}
		if cf.Code() == frames.ControlFlush {
			// If using speculative buffer, trigger flush through turn manager
			// Otherwise use the direct aggregator flush
			if p.buffer != nil {
				p.buffer.Flush()
			} else {
				// Direct flush behavior
				agg := p.aggFor(cf.Meta()[frames.MetaStreamID])
				if tf := agg.FlushFrame(); tf != nil {
					if sys := p.buildBasePrompt(tf.Meta()); sys != nil {
						out = append(out, *sys)
					}
					out = append(out, *tf)
				}
			}
			out = append(out, f)
			return out, nil
		}
	}

	if f.Kind() == frames.KindText {
		tf := f.(frames.TextFrame)

		// If using speculative buffer, update it instead of using aggregator directly
		if p.buffer != nil {
			if streamID := tf.Meta()[frames.MetaStreamID]; streamID != "" {
				p.buffer.SetStreamID(streamID)
			}
			isFinal := isFinal(tf.Meta())
			p.buffer.AddTranscript(tf.Text(), isFinal)

			// For interim results, don't emit anything
			if !isFinal {
				return out, nil
			}

			// For final results, still return them but don't flush yet
			// The flush will happen on state transition
			return out, nil
		}

		// Direct behavior: only process final transcripts
		if !isFinal(tf.Meta()) {
			return out, nil
		}

		if sys := p.buildBasePrompt(tf.Meta()); sys != nil {
			out = append(out, *sys)
		}
		agg := p.aggFor(tf.Meta()[frames.MetaStreamID])
		r, err := agg.Process(tf)
		if err != nil {
			return out, err
		}
		out = append(out, r...)
		return out, nil
	}

	// For other frame types, pass through aggregator
	streamID := f.Meta()[frames.MetaStreamID]
	if streamID == "" {
		return append(out, f), nil
	}
	agg := p.aggFor(streamID)
	r, err := agg.Process(f)
	if err != nil {
		return out, err
	}
	out = append(out, r...)
	return out, nil
}

func isFinal(meta map[string]string) bool {
	v := meta[frames.MetaIsFinal]
	return v == "true" || v == "1" || v == "yes"
}

func (p *ContextProcessor) aggFor(streamID string) *aggregators.TextAggregator {
	if streamID == "" {
		streamID = "default"
	}
	p.mu.Lock()
	agg := p.aggs[streamID]
	if agg == nil {
		agg = aggregators.NewTextAggregator(p.aggConfig)
		p.aggs[streamID] = agg
	}
	p.mu.Unlock()
	return agg
}

func (p *ContextProcessor) clearAgg(streamID string) {
	if streamID == "" {
		return
	}
	p.mu.Lock()
	delete(p.aggs, streamID)
	p.mu.Unlock()
}

var _ pipeline.FrameProcessor = (*ContextProcessor)(nil)

func (p *ContextProcessor) buildBasePrompt(meta map[string]string) *frames.SystemFrame {
	if p.basePrompt == "" {
		return nil
	}
	streamID := meta[frames.MetaStreamID]
	scope := p.scopeKey(meta)
	if streamID == "" || scope == "" || p.injected[scope] {
		return nil
	}
	p.injected[scope] = true
	sysMeta := map[string]string{frames.MetaSystemMessage: p.basePrompt}
	if traceID := meta[frames.MetaTraceID]; traceID != "" {
		sysMeta[frames.MetaTraceID] = traceID
	}
	frame := frames.NewSystemFrame(streamID, time.Now().UnixNano(), "base_prompt", sysMeta)
	return &frame
}

func (p *ContextProcessor) scopeKey(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	if callSID := meta[frames.MetaCallSID]; callSID != "" {
		return callSID
	}
	return meta[frames.MetaStreamID]
}

func (p *ContextProcessor) clearScope(meta map[string]string) {
	scope := p.scopeKey(meta)
	if scope == "" {
		return
	}
	p.mu.Lock()
	delete(p.injected, scope)
	p.mu.Unlock()
}
