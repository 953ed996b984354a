package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigMissing ReasonCode = "config_missing"
	ReasonConfigInvalid ReasonCode = "config_invalid"

	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTRetry       ReasonCode = "stt_retry"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSend        ReasonCode = "tts_send"
	ReasonTTSRetry       ReasonCode = "tts_retry"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMJSONParse ReasonCode = "llm_json_parse"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonBackendRequest ReasonCode = "backend_request"
	ReasonBackendDecode  ReasonCode = "backend_decode"
	ReasonBackendStatus  ReasonCode = "backend_status"

	ReasonBookingRejected ReasonCode = "booking_rejected"
	ReasonBookingTimeout  ReasonCode = "booking_timeout"

	ReasonGeocodeEmpty ReasonCode = "geocode_empty"

	ReasonCacheSnapshot ReasonCode = "cache_snapshot"
	ReasonCacheRestore  ReasonCode = "cache_restore"

	ReasonSupervisorScore ReasonCode = "supervisor_score"

	ReasonTransferSIP    ReasonCode = "transfer_sip"
	ReasonTransferLocked ReasonCode = "transfer_locked"

	ReasonPersistMongo  ReasonCode = "persist_mongo"
	ReasonPersistLegacy ReasonCode = "persist_legacy"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"

	ReasonSessionState ReasonCode = "session_state"
)
