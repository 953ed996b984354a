package aggregators

import "time"

// AggregatorConfig bounds how much caller speech is buffered before a
// turn is handed to the language model. MinLen keeps single filler
// words from triggering a turn, FlushTimeout forces a flush when the
// caller trails off mid-sentence.
type AggregatorConfig struct {
	MinLen       int
	MaxTokens    int
	MaxHistory   int
	FlushTimeout time.Duration
}
