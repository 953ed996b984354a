package engine

import (
	"context"
	"encoding/base64"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alinavoice/alina/pkg/adapters/stt"
	"github.com/alinavoice/alina/pkg/adapters/tts"
	"github.com/alinavoice/alina/pkg/agenttools"
	"github.com/alinavoice/alina/pkg/aggregators"
	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/cache"
	"github.com/alinavoice/alina/pkg/configutil"
	"github.com/alinavoice/alina/pkg/contextxfer"
	"github.com/alinavoice/alina/pkg/dtmf"
	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/metrics"
	"github.com/alinavoice/alina/pkg/observers"
	"github.com/alinavoice/alina/pkg/pipeline"
	"github.com/alinavoice/alina/pkg/processors"
	"github.com/alinavoice/alina/pkg/redact"
	"github.com/alinavoice/alina/pkg/runner"
	"github.com/alinavoice/alina/pkg/session"
	"github.com/alinavoice/alina/pkg/sttcheck"
	"github.com/alinavoice/alina/pkg/supervisor"
	"github.com/alinavoice/alina/pkg/transfer"
	"github.com/alinavoice/alina/pkg/transports"
	"github.com/alinavoice/alina/pkg/turn"
	"github.com/alinavoice/alina/pkg/websearch"
)

// Engine owns the shared service state: the pipeline registry, the
// transport, the cost ledgers and the per-call sessions. One Engine
// serves many concurrent calls.
type Engine struct {
	cfg       configutil.Config
	registry  *pipeline.SessionRegistry
	transport transports.Transport
	runner    *pipeline.Runner
	asyncObs  *metrics.AsyncObserver
	logger    *slog.Logger
	closeLog  func(callID string)
	store     session.Recorder

	backend    *backend.Client
	affiliates *cache.Cache[backend.Affiliate]
	riders     *cache.Cache[[]backend.RiderProfile]
	ledgers    *ledger.Registry
	contextGen *contextxfer.Generator
	transfer   session.SIPTransfer
	userID     primitive.ObjectID

	agentLLM llm.LLMAdapter
	sttF     func(traceID string) func(callSID, streamID string) stt.StreamingSTT
	ttsF     func(callSID, streamID string) tts.StreamingTTS

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	calls map[string]*call
}

// call is the per-call state created at call_start and torn down at
// call_end.
type call struct {
	streamID   string
	traceID    string
	session    *session.Session
	ledger     *ledger.CallLedger
	toolbox    *agenttools.Toolbox
	web        *websearch.Client
	supervisor *supervisor.Supervisor
	dtmf       *dtmf.Handler
	tracker    *contextxfer.Tracker
}

// Options carries the engine collaborators main resolves before boot.
// LLM, STTFactory and TTSFactory default to the configured providers
// and exist as seams for tests.
type Options struct {
	Config    configutil.Config
	Transport transports.Transport
	Logger    *slog.Logger
	CloseLog  func(callID string)
	Store     session.Recorder

	LLM        llm.LLMAdapter
	STTFactory func(callSID, streamID string) stt.StreamingSTT
	TTSFactory func(callSID, streamID string) tts.StreamingTTS
}

func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("engine_init",
		"environment", cfg.Environment,
		"mongo_enabled", cfg.MongoEnabled(),
		"transfer_enabled", cfg.TransferEnabled(),
		"context_transfer_enabled", cfg.ContextTransferEnabled())

	pipeline.LogConfiguration(cfg.Engine)
	latencyObs := observers.NewLatencyObserver(logger)
	logObs := observers.NewLoggerObserver(logger)
	var timelineObs *observers.TimelineObserver
	var costObs *observers.CostObserver
	obsList := []metrics.Observer{latencyObs, logObs}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		timelineObs = observers.NewTimelineObserver(dir)
		costObs = observers.NewCostObserver(dir)
		obsList = append(obsList, timelineObs, costObs)
	}
	var inner metrics.Observer = observers.NewMultiObserver(obsList...)
	if rate := cfg.Observability.EventSampleRate; rate > 0 && rate < 1 {
		inner = metrics.NewSamplingObserver(inner, rate)
	}
	asyncObs := metrics.NewAsyncObserver(inner, 2048)

	e := &Engine{
		cfg:       cfg,
		transport: opts.Transport,
		asyncObs:  asyncObs,
		logger:    logger,
		closeLog:  opts.CloseLog,
		store:     opts.Store,
		ledgers:   ledger.NewRegistry(),
		calls:     make(map[string]*call),
	}

	e.backend = backend.NewClient(cfg.Backend, logger)
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	e.affiliates = cache.New[backend.Affiliate](ttl, cfg.Cache.AffiliatePath, logger)
	e.riders = cache.New[[]backend.RiderProfile](ttl, cfg.Cache.RiderPath, logger)
	if err := e.affiliates.Restore(); err != nil {
		logger.Warn("affiliate_cache_restore_failed", "error", err)
	}
	if err := e.riders.Restore(); err != nil {
		logger.Warn("rider_cache_restore_failed", "error", err)
	}

	if cfg.TransferEnabled() {
		e.transfer = transfer.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Transfer.AsteriskIP, logger)
	}
	if cfg.ContextTransferEnabled() {
		e.contextGen = contextxfer.NewGenerator(supervisorAdapter(cfg), cfg.Transfer.ContextTransferURL, logger)
	}
	if id, err := primitive.ObjectIDFromHex(cfg.Mongo.UserID); err == nil {
		e.userID = id
	}

	e.agentLLM = opts.LLM
	if e.agentLLM == nil {
		e.agentLLM = agentAdapter(cfg)
	}
	if opts.STTFactory != nil {
		e.sttF = func(string) func(callSID, streamID string) stt.StreamingSTT { return opts.STTFactory }
	} else {
		e.sttF = func(traceID string) func(callSID, streamID string) stt.StreamingSTT {
			return sttFactory(cfg, traceID)
		}
	}
	e.ttsF = opts.TTSFactory
	if e.ttsF == nil {
		e.ttsF = ttsFactory(cfg)
	}

	var sink func(frames.Frame)
	if opts.Transport != nil {
		sink = func(f frames.Frame) {
			if f.Kind() == frames.KindAudio {
				e.recordAudioEvent("audio_out", f.(frames.AudioFrame))
			}
			_ = opts.Transport.Send(f)
		}
	}

	e.registry = pipeline.NewSessionRegistry(func(ctx context.Context, callSID, streamID, traceID string) (pipeline.Orchestrator, error) {
		return e.buildOrchestrator(ctx, callSID, streamID, traceID, sink)
	})

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Alina ready for calls"}
			if rr, ok := opts.Transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			if costObs != nil {
				_ = costObs.Close()
			}
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.registry.Count())
		},
	}

	drainer := pipeline.DrainerFunc(func() error {
		if opts.Transport != nil {
			_ = opts.Transport.Stop()
		}
		e.registry.SetDraining(true)
		e.endAllCalls("shutdown")
		e.registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = e.registry.WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	e.runner = pipeline.NewDrainRunner(drainer, hooks, 30*time.Second)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

func (e *Engine) buildOrchestrator(ctx context.Context, callSID, streamID, traceID string, sink func(frames.Frame)) (pipeline.Orchestrator, error) {
	cfg := e.cfg
	cs := e.ensureCall(callSID, streamID, traceID)

	sttProc := processors.NewSTTProcessor(e.sttF(traceID))
	sttProc.SetForwardInterim(cfg.STT.ForwardInterim)
	sttProc.SetReplayBuffer(processors.STTReplayConfig{MaxChunks: cfg.Engine.STTReplayChunks})
	sttProc.SetAudioTally(func(callSID string, seconds float64) {
		e.ledgers.Ledger(callSID).AddSTTSeconds("deepgram", cfg.Deepgram.Model, seconds)
	})
	sttProc.SetObserver(e.asyncObs)
	sttProc.SetContext(ctx)

	llmProc := processors.NewLLMProcessor(e.agentLLM, "", cs.toolbox.Tools())
	if cfg.Context.MaxHistory > 0 || cfg.Context.MaxTokens > 0 {
		llmProc.SetMemoryLimits(cfg.Context.MaxHistory, cfg.Context.MaxTokens)
	}
	llmProc.SetTranscriptGuard(true)
	llmProc.SetTurnHooks(e.onUserTurn, e.onAssistantTurn)
	llmProc.SetSTTCheckHook(func(callSID string, a sttcheck.Analysis) {
		if s := e.sessionFor(callSID); s != nil {
			s.AnnotateSTT(a)
		}
	})
	llmProc.SetUsageHook(func(callSID string, usage llm.Usage) {
		e.ledgers.Ledger(callSID).AddAgentTokens(cfg.OpenAI.AgentModel,
			int64(usage.PromptTokens), int64(usage.CompletionTokens))
	})
	llmProc.SetObserver(e.asyncObs)
	llmProc.SetContext(ctx)

	ttsProc := processors.NewTTSProcessor(func(callSID, streamID string) tts.StreamingTTS {
		return e.ttsF(callSID, streamID)
	})
	ttsProc.SetOutputFormat(cfg.ElevenLabs.OutputFormat)
	ttsProc.SetCharacterTally(func(callSID string, chars int) {
		e.ledgers.Ledger(callSID).AddTTSCharacters("elevenlabs", cfg.ElevenLabs.ModelID, int64(chars))
	})
	ttsProc.SetObserver(e.asyncObs)
	ttsProc.SetContext(ctx)

	dispatcher := NewToolDispatcher(cs.toolbox, nil, ToolDispatcherOptions{
		Concurrency:       cfg.Tools.Concurrency,
		Timeout:           time.Duration(cfg.Tools.TimeoutMS) * time.Millisecond,
		Retries:           cfg.Tools.Retries,
		RetryBackoff:      time.Duration(cfg.Tools.RetryBackoffMS) * time.Millisecond,
		SerializeByStream: cfg.Tools.SerializeByStream,
	})

	maxHistory := 10
	if cfg.Context.MaxHistory > 0 {
		maxHistory = cfg.Context.MaxHistory
	}
	ctxProc := processors.NewContextProcessor(aggregators.AggregatorConfig{
		MinLen:       2,
		MaxTokens:    128,
		MaxHistory:   maxHistory,
		FlushTimeout: 400 * time.Millisecond,
	}, "")

	turnProc := processors.NewTurnProcessorWithConfig(turn.AggressiveStrategy{}, processors.TurnProcessorConfig{
		BargeInThreshold: time.Duration(cfg.Turn.BargeInThresholdMS) * time.Millisecond,
		MinBargeIn:       time.Duration(cfg.Turn.MinBargeInMS) * time.Millisecond,
		EndOfTurnTimeout: time.Duration(cfg.Turn.EndOfTurnTimeoutMS) * time.Millisecond,
	})
	if reprompt := silenceRepromptFromConfig(cfg); reprompt != nil {
		turnProc.SetSilenceReprompt(reprompt)
	}
	ctxProc.SetTurnManager(turnProc.Manager())

	normalizer := processors.NewTextNormalizer(processors.TextNormalizerConfig{
		Replacements: transcriptReplacements,
		Source:       "stt",
	})
	disambiguator := processors.NewDTMFDisambiguator(processors.DTMFDisambiguatorConfig{
		Window:     2 * time.Second,
		PreferDTMF: true,
	})
	recovery := processors.NewRecoveryProcessor(processors.RecoveryConfig{
		MaxAttempts: cfg.Recovery.MaxAttempts,
		PromptText:  cfg.Recovery.PromptText,
		Phrases:     cfg.Recovery.Phrases,
	})
	background := processors.NewBackgroundAudioProcessor(cfg.Session.TypingAudioPath)
	background.SetHoldMusic(cfg.Session.HoldMusicPath)

	orch := pipeline.NewVoiceAgentBuilder().
		WithSTT(sttProc).
		WithTurnManager(turnProc).
		WithProcessor(normalizer).
		WithProcessor(disambiguator).
		WithContext(ctxProc).
		WithLLM(llmProc).
		WithProcessor(dispatcher).
		WithProcessor(recovery).
		WithTTS(ttsProc).
		WithProcessor(background).
		Build(cfg.Pipeline)
	orch.SetContext(ctx)
	orch.SetObserver(e.asyncObs)
	dispatcher.SetInput(orch.In())

	if sink != nil {
		orch.SetSink(sink)
	}

	go func() {
		<-ctx.Done()
		sttProc.CloseAll()
		ttsProc.CloseAll()
	}()

	return orch, nil
}

// transcriptReplacements normalizes spoken domain terms before they
// reach the agent.
var transcriptReplacements = map[string]string{
	"wheel chair":  "wheelchair",
	"medi cal":     "medical",
	"para transit": "paratransit",
	"co pay":       "copay",
}

func silenceRepromptFromConfig(cfg configutil.Config) *processors.SilenceRepromptConfig {
	sr := cfg.Turn.SilenceReprompt
	if sr.TimeoutMS == 0 && sr.MaxAttempts == 0 && sr.PromptText == "" {
		return nil
	}
	return &processors.SilenceRepromptConfig{
		Timeout:     time.Duration(sr.TimeoutMS) * time.Millisecond,
		MaxAttempts: sr.MaxAttempts,
		PromptText:  sr.PromptText,
	}
}

// ensureCall builds the per-call collaborators on first sight of a
// callSID. Safe to call from both the registry factory and the
// transport router.
func (e *Engine) ensureCall(callSID, streamID, traceID string) *call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok := e.calls[callSID]; ok {
		cs.streamID = streamID
		return cs
	}
	ldg := e.ledgers.Ledger(callSID)
	web := websearch.New(e.cfg.OpenAI.APIKey, ldg, e.logger)
	if e.cfg.WebSearch.SummaryMaxTokens > 0 {
		web.SummaryMaxTokens = e.cfg.WebSearch.SummaryMaxTokens
	}
	toolbox := agenttools.New(e.backend, web, e.agentLLM, e.logger)
	toolbox.BindLedger(ldg)
	sup := supervisor.New(supervisorAdapter(e.cfg), e.cfg.OpenAI.SupervisorModel, ldg,
		func(ctx context.Context, reason string) {
			if s := e.sessionFor(callSID); s != nil {
				s.Escalate(ctx, reason)
			}
		}, e.logger)
	cs := &call{
		streamID:   streamID,
		traceID:    traceID,
		ledger:     ldg,
		toolbox:    toolbox,
		web:        web,
		supervisor: sup,
		dtmf:       dtmf.NewHandler(e.logger),
		tracker:    contextxfer.NewTracker(callSID),
	}
	e.calls[callSID] = cs
	return cs
}

func (e *Engine) sessionFor(callSID string) *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs := e.calls[callSID]; cs != nil {
		return cs.session
	}
	return nil
}

func (e *Engine) onUserTurn(callSID, text string) {
	if s := e.sessionFor(callSID); s != nil {
		s.OnUserTurn(text)
	}
}

func (e *Engine) onAssistantTurn(callSID, text string) {
	if s := e.sessionFor(callSID); s != nil {
		s.OnAssistantTurn(text)
	}
}

// startSession creates the session for a new call and launches its
// greeting flow. Reconnects reuse the existing session; only the
// voice bridge is rebuilt against the new stream.
func (e *Engine) startSession(meta map[string]string, orchIn chan frames.Frame) {
	callSID := meta[frames.MetaCallSID]
	streamID := meta[frames.MetaStreamID]
	traceID := meta[frames.MetaTraceID]
	cs := e.ensureCall(callSID, streamID, traceID)

	var ender transports.CallEnder
	if ce, ok := e.transport.(transports.CallEnder); ok {
		ender = ce
	}
	voice := newVoiceBridge(callSID, streamID, traceID, orchIn, ender, e.logger)

	e.mu.Lock()
	if cs.session != nil {
		e.mu.Unlock()
		return
	}
	scfg := session.Config{
		CallID:             callSID,
		XCallID:            meta[frames.MetaXCallID],
		CallerNumber:       meta[frames.MetaFromNumber],
		RecipientNumber:    meta[frames.MetaToNumber],
		Channel:            session.ChannelIVR,
		PromptDir:          e.cfg.Session.PromptDir,
		PromptArtifactDir:  e.cfg.Session.PromptArtifactDir,
		DefaultAffiliateID: e.cfg.Session.DefaultAffiliateID,
		DefaultFamilyID:    e.cfg.Session.DefaultFamilyID,
		RecordingBaseURL:   e.cfg.Transfer.RecordingBaseURL,
		UserID:             e.userID,
	}
	deps := session.Deps{
		Backend:    e.backend,
		Affiliates: e.affiliates,
		Riders:     e.riders,
		Web:        cs.web,
		Toolbox:    cs.toolbox,
		Supervisor: cs.supervisor,
		DTMF:       cs.dtmf,
		Transfer:   e.transfer,
		Ledger:     cs.ledger,
		Tracker:    cs.tracker,
		Context:    e.contextGen,
		Store:      e.store,
		Voice:      voice,
		Logger:     e.logger,
		CloseLog:   e.closeLog,
	}
	cs.session = session.New(scfg, deps)
	sess := cs.session
	e.mu.Unlock()

	go sess.Start(e.ctx)
}

func (e *Engine) endCall(callSID, reason string) {
	e.mu.Lock()
	cs := e.calls[callSID]
	delete(e.calls, callSID)
	e.mu.Unlock()
	if cs != nil && cs.session != nil {
		cs.session.End(reason)
	}
	e.registry.Remove(callSID)
	e.ledgers.Release(callSID)
}

func (e *Engine) endAllCalls(reason string) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.calls))
	for id := range e.calls {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.endCall(id, reason)
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return err
		}
		go e.routeTransport(ctx)
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// Registry exposes the pipeline session registry, used by tests and
// health checks.
func (e *Engine) Registry() *pipeline.SessionRegistry { return e.registry }

func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			meta := f.Meta()
			callSID := meta[frames.MetaCallSID]
			streamID := meta[frames.MetaStreamID]
			traceID := meta[frames.MetaTraceID]
			if callSID == "" || streamID == "" {
				continue
			}
			if f.Kind() == frames.KindAudio {
				e.recordAudioEvent("audio_in", f.(frames.AudioFrame))
			}
			if f.Kind() == frames.KindSystem {
				sf := f.(frames.SystemFrame)
				if sf.Name() == "call_end" {
					reason := meta[frames.MetaCallEndReason]
					if reason == "" {
						reason = "completed"
					}
					e.endCall(callSID, reason)
					continue
				}
			}
			if e.registry.Draining() {
				if _, ok := e.registry.Get(callSID); !ok {
					// No new calls during drain; in-flight calls keep flowing.
					continue
				}
			}
			sess, _, err := e.registry.GetOrCreate(callSID, streamID, traceID)
			if err != nil {
				e.logger.Error("pipeline_create_failed", "call_id", callSID, "error", err)
				continue
			}
			if f.Kind() == frames.KindControl {
				cf := f.(frames.ControlFrame)
				if cf.Code() == frames.ControlDTMF {
					if s := e.sessionFor(callSID); s != nil {
						s.OnDTMF(ctx, meta[frames.MetaDTMFDigit])
						continue
					}
				}
			}
			if f.Kind() == frames.KindSystem && f.(frames.SystemFrame).Name() == "call_start" {
				e.startSession(meta, sess.Orch.In())
			}
			nonBlockingSend(sess.Orch.In(), f)
		}
	}
}

func (e *Engine) recordAudioEvent(name string, af frames.AudioFrame) {
	if e.asyncObs == nil {
		return
	}
	meta := af.Meta()
	fields := map[string]any{
		"sample_rate": af.Rate(),
		"channels":    af.Channels(),
	}
	if e.cfg.Observability.RecordAudio {
		fields["payload_b64"] = base64.StdEncoding.EncodeToString(af.RawPayload())
	}
	e.asyncObs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			frames.MetaStreamID: meta[frames.MetaStreamID],
			frames.MetaTraceID:  meta[frames.MetaTraceID],
			frames.MetaCallSID:  meta[frames.MetaCallSID],
			"component":         "transport",
		},
		Fields: fields,
	})
}

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}
