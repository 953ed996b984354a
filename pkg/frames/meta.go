package frames

// Meta keys attached to frames as they move through the pipeline.
const (
	MetaStreamID = "stream_id"
	MetaTraceID  = "trace_id"
	MetaSource   = "source"

	MetaCallSID    = "call_sid"
	MetaXCallID    = "x_call_id"
	MetaFromNumber = "from_number"
	MetaToNumber   = "to_number"

	MetaIsFinal    = "is_final"
	MetaConfidence = "confidence"
	MetaRole       = "role"
	MetaReason     = "reason"

	MetaCodec    = "codec"
	MetaEncoding = "encoding"

	MetaDTMFDigit    = "dtmf_digit"
	MetaDTMFPriority = "dtmf_priority"

	MetaGreetingText  = "greeting_text"
	MetaSystemMessage = "system_message"
	MetaCallEndReason = "call_end_reason"
	MetaTTSFlush      = "tts_flush"

	MetaToolName   = "tool_name"
	MetaToolCallID = "tool_call_id"
	MetaToolArgs   = "tool_args"
	MetaToolResult = "tool_result"
	MetaToolError  = "tool_error"
	MetaToolStatus = "tool_status"

	MetaFormat      = "format"
	MetaOldStreamID = "old_stream_id"
	MetaIdempotency = "idempotency_key"
	MetaNormalized  = "normalized"

	MetaRecoveryReason  = "recovery_reason"
	MetaRepromptAttempt = "reprompt_attempt"

	// Set on say/greeting frames that must play to completion.
	MetaNonInterruptible = "non_interruptible"
	MetaSayText          = "say_text"
	MetaBackgroundSound  = "background_sound"
)
