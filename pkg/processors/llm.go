package processors

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/metrics"
	"github.com/alinavoice/alina/pkg/pipeline"
	"github.com/alinavoice/alina/pkg/redact"
	"github.com/alinavoice/alina/pkg/resilience"
	"github.com/alinavoice/alina/pkg/sttcheck"
)

type LLMProcessor struct {
	adapter         llm.LLMAdapter
	system          string
	tools           []llm.Tool
	toolIndex       map[string]llm.Tool
	messagesByScope map[string][]map[string]any
	mu              sync.Mutex
	ctx             context.Context
	obs             metrics.Observer
	pendingTools    map[string]llm.ToolCall
	lastCallSID     map[string]string
	lastAssistant   map[string]string
	userHistory     map[string][]string
	onUserText      func(callSID, text string)
	onAssistantText func(callSID, text string)
	onUsage         func(callSID string, usage llm.Usage)
	onSTTCheck      func(callSID string, analysis sttcheck.Analysis)
	maxHistory      int
	maxTokens       int
	guardTranscript bool
}

const defaultLLMScope = "default"

func NewLLMProcessor(adapter llm.LLMAdapter, system string, tools []llm.Tool) *LLMProcessor {
	return &LLMProcessor{
		adapter:         adapter,
		system:          system,
		tools:           tools,
		toolIndex:       indexTools(tools),
		messagesByScope: make(map[string][]map[string]any),
		ctx:             context.Background(),
		pendingTools:    make(map[string]llm.ToolCall),
		lastCallSID:     make(map[string]string),
		lastAssistant:   make(map[string]string),
		userHistory:     make(map[string][]string),
	}
}

func (p *LLMProcessor) Name() string { return "llm" }

func (p *LLMProcessor) SetObserver(obs metrics.Observer) {
	p.obs = obs
	if setter, ok := p.adapter.(interface{ SetObserver(metrics.Observer) }); ok {
		setter.SetObserver(obs)
	}
}

func (p *LLMProcessor) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

func (p *LLMProcessor) SetTools(tools []llm.Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
	p.toolIndex = indexTools(tools)
}

func (p *LLMProcessor) SetMemoryLimits(maxHistory, maxTokens int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxHistory < 0 {
		maxHistory = 0
	}
	if maxTokens < 0 {
		maxTokens = 0
	}
	p.maxHistory = maxHistory
	p.maxTokens = maxTokens
}

// SetTurnHooks registers callbacks fired once per completed user and
// assistant turn, keyed by call SID.
func (p *LLMProcessor) SetTurnHooks(onUser, onAssistant func(callSID, text string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUserText = onUser
	p.onAssistantText = onAssistant
}

// SetUsageHook registers a callback receiving model token usage per turn.
func (p *LLMProcessor) SetUsageHook(fn func(callSID string, usage llm.Usage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUsage = fn
}

// SetSTTCheckHook registers a callback receiving the transcription
// plausibility analysis of each suspect user turn.
func (p *LLMProcessor) SetSTTCheckHook(fn func(callSID string, analysis sttcheck.Analysis)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSTTCheck = fn
}

// SetTranscriptGuard toggles heuristic detection of garbled transcriptions.
func (p *LLMProcessor) SetTranscriptGuard(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guardTranscript = enabled
}

func (p *LLMProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	if f.Kind() == frames.KindSystem {
		sf := f.(frames.SystemFrame)
		meta := sf.Meta()
		scope := p.scopeKey(meta, meta[frames.MetaStreamID])
		switch sf.Name() {
		case "call_end":
			p.clearCall(meta)
		case "set_instructions":
			if msg := meta[frames.MetaSystemMessage]; msg != "" {
				p.replaceSystem(scope, msg)
			}
			return []frames.Frame{f}, nil
		case "tool_result":
			out, err := p.applyToolResult(sf)
			if err != nil {
				return []frames.Frame{f}, nil
			}
			return append(out, f), nil
		case "say":
			if text := meta[frames.MetaSayText]; text != "" {
				streamID := meta[frames.MetaStreamID]
				outMeta := cloneMeta(meta)
				outMeta[frames.MetaSource] = "llm"
				p.appendAssistant(scope, text)
				p.fireAssistantHook(meta[frames.MetaCallSID], streamID, text)
				return []frames.Frame{frames.NewTextFrame(streamID, sf.PTS(), text, outMeta)}, nil
			}
			return []frames.Frame{f}, nil
		}
		if msg := meta[frames.MetaSystemMessage]; msg != "" {
			p.appendSystem(scope, msg)
		}
		if greet := meta[frames.MetaGreetingText]; greet != "" {
			streamID := meta[frames.MetaStreamID]
			outMeta := cloneMeta(meta)
			outMeta[frames.MetaSource] = "llm"
			p.appendAssistant(scope, greet)
			p.fireAssistantHook(meta[frames.MetaCallSID], streamID, greet)
			return []frames.Frame{frames.NewTextFrame(streamID, sf.PTS(), greet, outMeta)}, nil
		}
		return []frames.Frame{f}, nil
	}
	if f.Kind() != frames.KindText {
		return []frames.Frame{f}, nil
	}
	tf := f.(frames.TextFrame)
	meta := tf.Meta()
	streamID := meta[frames.MetaStreamID]
	callSID := meta[frames.MetaCallSID]
	p.setCallSIDFromMeta(meta)
	scope := p.scopeKey(meta, streamID)

	safe := redact.Text(tf.Text())
	slog.Info("llm_input_received", "stream_id", streamID, "text", safe)
	// The user turn is recorded first so the transcript annotation
	// lands on an existing entry.
	p.fireUserHook(callSID, streamID, tf.Text())
	p.checkTranscript(callSID, streamID, scope, tf)

	llmCtx := p.contextWithUser(tf.Text(), scope)
	control := frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlStartInterruption, meta)
	var out []frames.Frame
	out = append(out, control)

	slog.Info("llm_generating", "stream_id", streamID)

	resp, err := p.adapter.Generate(p.ctx, llmCtx)
	if err != nil {
		reason := errorsx.ReasonLLMGenerate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(err, reason)
		slog.Error("llm_generate_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(err)), "error", err)
		p.popLastMessage(scope) // Rollback history to avoid stuck state
		fallback := frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)
		return append(out, fallback), nil
	}
	p.fireUsageHook(callSID, streamID, resp.Usage)
	if len(resp.ToolCalls) > 0 {
		out = append(out, frames.NewSystemFrame(streamID, time.Now().UnixNano(), "thinking_start", meta))
		out = append(out, p.emitToolCalls(streamID, resp.ToolCalls, meta)...)
		out = append(out, frames.NewSystemFrame(streamID, time.Now().UnixNano(), "thinking_end", meta))
		return out, nil
	}
	ch, err := p.adapter.Stream(p.ctx, llmCtx)
	if err != nil {
		reason := errorsx.ReasonLLMStream
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(err, reason)
		slog.Error("llm_stream_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(err)), "error", err)
		fallback := frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)
		return append(out, fallback), nil
	}
	return append(out, p.streamToFrames(tf, ch)...), nil
}

func (p *LLMProcessor) toolsLocked() []llm.Tool {
	return p.tools
}

func (p *LLMProcessor) contextWithUser(text, scope string) llm.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	msgs = append(msgs, map[string]any{"role": "user", "content": text})
	msgs = p.pruneMessagesLocked(msgs)
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
	return llm.Context{Messages: cloneMessages(msgs), Tools: p.toolsLocked()}
}

func (p *LLMProcessor) scopeKey(meta map[string]string, streamID string) string {
	if meta != nil {
		if callSID := strings.TrimSpace(meta[frames.MetaCallSID]); callSID != "" {
			return "call:" + callSID
		}
		if sid := strings.TrimSpace(meta[frames.MetaStreamID]); sid != "" {
			return "stream:" + sid
		}
	}
	if streamID != "" {
		return "stream:" + streamID
	}
	return defaultLLMScope
}

func scopeKeyOrDefault(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return defaultLLMScope
	}
	return scope
}

func (p *LLMProcessor) ensureMessagesLocked(scope string) []map[string]any {
	scope = scopeKeyOrDefault(scope)
	msgs, ok := p.messagesByScope[scope]
	if !ok {
		if p.system != "" {
			msgs = []map[string]any{{"role": "system", "content": p.system}}
		} else {
			msgs = []map[string]any{}
		}
		p.messagesByScope[scope] = msgs
	}
	return msgs
}

func (p *LLMProcessor) setCallSIDFromMeta(meta map[string]string) {
	if meta == nil {
		return
	}
	streamID := meta[frames.MetaStreamID]
	callSID := meta[frames.MetaCallSID]
	if streamID == "" || callSID == "" {
		return
	}
	p.mu.Lock()
	p.lastCallSID[streamID] = callSID
	p.mu.Unlock()
}

func (p *LLMProcessor) clearCall(meta map[string]string) {
	if meta == nil {
		return
	}
	streamID := meta[frames.MetaStreamID]
	callSID := meta[frames.MetaCallSID]
	p.mu.Lock()
	delete(p.lastCallSID, streamID)
	if streamID != "" {
		delete(p.messagesByScope, "stream:"+streamID)
		delete(p.lastAssistant, "stream:"+streamID)
		delete(p.userHistory, "stream:"+streamID)
	}
	if callSID != "" {
		delete(p.messagesByScope, "call:"+callSID)
		delete(p.lastAssistant, "call:"+callSID)
		delete(p.userHistory, "call:"+callSID)
	}
	p.mu.Unlock()
}

func (p *LLMProcessor) contextSnapshot(scope string) llm.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	return llm.Context{Messages: cloneMessages(msgs), Tools: p.toolsLocked()}
}

func indexTools(tools []llm.Tool) map[string]llm.Tool {
	out := make(map[string]llm.Tool)
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		out[t.Name] = t
	}
	return out
}

func (p *LLMProcessor) emitToolCalls(streamID string, calls []llm.ToolCall, meta map[string]string) []frames.Frame {
	var out []frames.Frame
	p.mu.Lock()
	for _, call := range calls {
		p.pendingTools[call.ID] = call
		args, _ := json.Marshal(call.Arguments)
		outMeta := map[string]string{
			frames.MetaStreamID:   streamID,
			frames.MetaToolCallID: call.ID,
			frames.MetaToolName:   call.Name,
			frames.MetaToolArgs:   string(args),
		}
		if meta != nil {
			if callSID := meta[frames.MetaCallSID]; callSID != "" {
				outMeta[frames.MetaCallSID] = callSID
			}
			if traceID := meta[frames.MetaTraceID]; traceID != "" {
				outMeta[frames.MetaTraceID] = traceID
			}
		}
		out = append(out, frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlToolCall, outMeta))
	}
	p.mu.Unlock()
	return out
}

func (p *LLMProcessor) applyToolResult(sf frames.SystemFrame) ([]frames.Frame, error) {
	meta := sf.Meta()
	streamID := meta[frames.MetaStreamID]
	scope := p.scopeKey(meta, streamID)
	callID := meta[frames.MetaToolCallID]
	result := meta[frames.MetaToolResult]
	status := strings.ToLower(meta[frames.MetaToolStatus])
	if status != "" && status != "ok" {
		p.appendSystem(scope, "The tool failed or timed out. Summarize briefly and suggest the next step.")
	}
	if callID == "" || result == "" {
		return nil, nil
	}
	p.mu.Lock()
	call, ok := p.pendingTools[callID]
	if ok {
		delete(p.pendingTools, callID)
	}
	toolName := call.Name
	if toolName == "" {
		toolName = meta[frames.MetaToolName]
	}
	if status == "" {
		status = "ok"
	}
	p.mu.Unlock()
	p.recordToolResult(streamID, meta[frames.MetaTraceID], toolName, status, meta[frames.MetaToolError])

	p.mu.Lock()
	msgs := p.ensureMessagesLocked(scope)
	msgs = append(msgs, map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{
			{
				"id":   callID,
				"type": "function",
				"function": map[string]any{
					"name":      call.Name,
					"arguments": call.Arguments,
				},
			},
		},
	})
	msgs = append(msgs, map[string]any{
		"role":         "tool",
		"tool_call_id": callID,
		"content":      result,
	})
	msgs = p.pruneMessagesLocked(msgs)
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
	p.mu.Unlock()
	llmCtx := p.contextSnapshot(scope)
	ch, err := p.adapter.Stream(p.ctx, llmCtx)
	if err != nil {
		reason := errorsx.ReasonLLMStream
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(err, reason)
		slog.Error("llm_stream_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(err)), "error", err)
		fallback := frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)
		return []frames.Frame{fallback}, nil
	}
	return p.streamToFrames(frames.NewTextFrame(streamID, sf.PTS(), "", meta), ch), nil
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= '0' && r <= '9' {
			return false
		}
		return true
	})
}

func (p *LLMProcessor) pruneMessagesLocked(messages []map[string]any) []map[string]any {
	if p.maxHistory <= 0 && p.maxTokens <= 0 {
		return messages
	}
	if len(messages) == 0 {
		return messages
	}
	if p.maxHistory > 0 {
		messages = pruneByHistory(messages, p.maxHistory)
	}
	if p.maxTokens > 0 {
		messages = pruneByTokens(messages, p.maxTokens)
	}
	return messages
}

func pruneByHistory(messages []map[string]any, maxHistory int) []map[string]any {
	if maxHistory <= 0 {
		return messages
	}
	nonSystem := nonSystemIndices(messages)
	if len(nonSystem) <= maxHistory {
		return messages
	}
	toDrop := len(nonSystem) - maxHistory
	drop := make(map[int]struct{}, toDrop)
	for i := 0; i < toDrop; i++ {
		drop[nonSystem[i]] = struct{}{}
	}
	filtered := make([]map[string]any, 0, len(messages)-toDrop)
	for idx, msg := range messages {
		if _, ok := drop[idx]; ok {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered
}

func pruneByTokens(messages []map[string]any, maxTokens int) []map[string]any {
	if maxTokens <= 0 {
		return messages
	}
	for {
		total := estimateMessagesTokens(messages)
		if total <= maxTokens {
			return messages
		}
		nonSystem := nonSystemIndices(messages)
		if len(nonSystem) == 0 {
			return messages
		}
		dropIdx := nonSystem[0]
		filtered := make([]map[string]any, 0, len(messages)-1)
		for i, msg := range messages {
			if i == dropIdx {
				continue
			}
			filtered = append(filtered, msg)
		}
		messages = filtered
	}
}

func nonSystemIndices(messages []map[string]any) []int {
	out := make([]int, 0, len(messages))
	for i, msg := range messages {
		if role, _ := msg["role"].(string); strings.ToLower(role) != "system" {
			out = append(out, i)
		}
	}
	return out
}

func estimateMessagesTokens(messages []map[string]any) int {
	total := 0
	for _, msg := range messages {
		total += estimateMessageTokens(msg)
	}
	return total
}

func estimateMessageTokens(msg map[string]any) int {
	if msg == nil {
		return 0
	}
	content, ok := msg["content"].(string)
	if !ok || content == "" {
		return 0
	}
	return len(splitTokens(content))
}

func (p *LLMProcessor) streamToFrames(src frames.TextFrame, ch <-chan string) []frames.Frame {
	var out []frames.Frame
	var full strings.Builder
	var chunk strings.Builder
	first := true
	streamID := src.Meta()[frames.MetaStreamID]
	scope := p.scopeKey(src.Meta(), streamID)
	const minChunkLen = 120
	emitChunk := func(text string, flush bool) {
		meta := src.Meta()
		meta[frames.MetaSource] = "llm"
		if flush {
			meta[frames.MetaTTSFlush] = "true"
		}
		out = append(out, frames.NewTextFrame(streamID, time.Now().UnixNano(), text, meta))
	}
	for tok := range ch {
		full.WriteString(tok)
		chunk.WriteString(tok)
		if first {
			first = false
			p.record("llm_first_token", streamID, src.Meta()[frames.MetaTraceID])
		}
		if chunk.Len() >= minChunkLen {
			emitChunk(chunk.String(), false)
			chunk.Reset()
		}
	}
	if chunk.Len() > 0 {
		emitChunk(chunk.String(), true)
	} else {
		emitChunk("", true)
	}
	p.appendAssistant(scope, full.String())
	p.fireAssistantHook(src.Meta()[frames.MetaCallSID], streamID, full.String())
	p.recordWithFields("llm_output_text", streamID, src.Meta()[frames.MetaTraceID], map[string]any{"text": redact.Text(full.String())})
	p.record("llm_done", streamID, src.Meta()[frames.MetaTraceID])
	return out
}

func (p *LLMProcessor) appendAssistant(scope, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	msgs = append(msgs, map[string]any{"role": "assistant", "content": text})
	msgs = p.pruneMessagesLocked(msgs)
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
	p.lastAssistant[scopeKeyOrDefault(scope)] = text
}

func (p *LLMProcessor) appendSystem(scope, text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	msgs = append(msgs, map[string]any{"role": "system", "content": text})
	msgs = p.pruneMessagesLocked(msgs)
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
}

// replaceSystem swaps the scope's standing instructions in place. Mid-call
// state changes (rider identified, trip staged) rewrite the prompt rather
// than stack new ones.
func (p *LLMProcessor) replaceSystem(scope, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	for i, msg := range msgs {
		if role, _ := msg["role"].(string); strings.ToLower(role) == "system" {
			msgs[i] = map[string]any{"role": "system", "content": text}
			p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
			return
		}
	}
	msgs = append([]map[string]any{{"role": "system", "content": text}}, msgs...)
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
}

func (p *LLMProcessor) popLastMessage(scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.ensureMessagesLocked(scope)
	if len(msgs) == 0 {
		return
	}
	msgs = msgs[:len(msgs)-1]
	p.messagesByScope[scopeKeyOrDefault(scope)] = msgs
}

func cloneMessages(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, m := range in {
		c := make(map[string]any, len(m))
		for k, v := range m {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

func cloneMeta(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (p *LLMProcessor) fireUserHook(callSID, streamID, text string) {
	p.mu.Lock()
	fn := p.onUserText
	p.mu.Unlock()
	if fn == nil || text == "" {
		return
	}
	if callSID == "" {
		callSID = p.callSIDForStream(streamID)
	}
	if callSID == "" {
		return
	}
	fn(callSID, text)
}

func (p *LLMProcessor) fireAssistantHook(callSID, streamID, text string) {
	p.mu.Lock()
	fn := p.onAssistantText
	p.mu.Unlock()
	if fn == nil || text == "" {
		return
	}
	if callSID == "" {
		callSID = p.callSIDForStream(streamID)
	}
	if callSID == "" {
		return
	}
	fn(callSID, text)
}

func (p *LLMProcessor) fireUsageHook(callSID, streamID string, usage llm.Usage) {
	p.mu.Lock()
	fn := p.onUsage
	p.mu.Unlock()
	if fn == nil {
		return
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 && usage.TotalTokens == 0 {
		return
	}
	if callSID == "" {
		callSID = p.callSIDForStream(streamID)
	}
	if callSID == "" {
		return
	}
	fn(callSID, usage)
}

// checkTranscript runs the phonetic plausibility heuristics on a user
// turn. Suspect findings are logged, recorded and handed to the
// transcript hook; the turn is never blocked.
func (p *LLMProcessor) checkTranscript(callSID, streamID, scope string, tf frames.TextFrame) {
	p.mu.Lock()
	enabled := p.guardTranscript
	lastBot := p.lastAssistant[scopeKeyOrDefault(scope)]
	history := append([]string(nil), p.userHistory[scopeKeyOrDefault(scope)]...)
	p.mu.Unlock()
	if !enabled {
		return
	}
	confidence := 1.0
	if raw := tf.Meta()[frames.MetaConfidence]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			confidence = v
		}
	}
	analysis := sttcheck.Detect(tf.Text(), lastBot, history, confidence)
	p.mu.Lock()
	key := scopeKeyOrDefault(scope)
	p.userHistory[key] = append(p.userHistory[key], tf.Text())
	if len(p.userHistory[key]) > 10 {
		p.userHistory[key] = p.userHistory[key][len(p.userHistory[key])-10:]
	}
	p.mu.Unlock()
	if !analysis.LikelySTTError {
		return
	}
	p.mu.Lock()
	sttHook := p.onSTTCheck
	p.mu.Unlock()
	if sttHook != nil {
		if callSID == "" {
			callSID = p.callSIDForStream(streamID)
		}
		sttHook(callSID, analysis)
	}
	indicators := make([]string, 0, len(analysis.Indicators))
	for _, ind := range analysis.Indicators {
		indicators = append(indicators, string(ind))
	}
	slog.Info("stt_suspect_turn",
		"stream_id", streamID,
		"score", analysis.Score,
		"indicators", strings.Join(indicators, ","),
		"clarify", analysis.ShouldClarify)
	p.recordWithFields("stt_suspect", streamID, tf.Meta()[frames.MetaTraceID], map[string]any{
		"score":      analysis.Score,
		"indicators": strings.Join(indicators, ","),
	})
}

var _ pipeline.FrameProcessor = (*LLMProcessor)(nil)

func (p *LLMProcessor) record(name, streamID, traceID string) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "llm"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	if callSID := p.callSIDForStream(streamID); callSID != "" {
		tags[frames.MetaCallSID] = callSID
	}
	if p.adapter != nil {
		tags["provider"] = p.adapter.Name()
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: tags,
	})
}

func (p *LLMProcessor) recordWithFields(name, streamID, traceID string, fields map[string]any) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "llm"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	if callSID := p.callSIDForStream(streamID); callSID != "" {
		tags[frames.MetaCallSID] = callSID
	}
	if p.adapter != nil {
		tags["provider"] = p.adapter.Name()
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   tags,
		Fields: fields,
	})
}

func (p *LLMProcessor) recordToolResult(streamID, traceID, toolName, status, errMsg string) {
	fields := map[string]any{
		"tool":   toolName,
		"status": status,
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	p.recordWithFields("tool_result", streamID, traceID, fields)
}

func (p *LLMProcessor) callSIDForStream(streamID string) string {
	if streamID == "" {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCallSID[streamID]
}
