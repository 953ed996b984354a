package dtmf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alinavoice/alina/pkg/logging"
)

func press(h *Handler, digits ...string) Result {
	var last Result
	for _, d := range digits {
		last = h.Press(d)
	}
	return last
}

func TestPhoneCollectionSubmitsTenDigits(t *testing.T) {
	h := NewHandler(logging.Discard())
	res := press(h, "3", "0", "1", "5", "5", "5", "1", "2", "3", "4", "#")
	assert.Equal(t, ActionSubmit, res.Action)
	assert.Equal(t, "(301) 555-1234", res.Number)
	assert.Empty(t, h.Buffer())
}

func TestPhoneCollectionElevenDigitsWithCountryCode(t *testing.T) {
	h := NewHandler(logging.Discard())
	res := press(h, "1", "3", "0", "1", "5", "5", "5", "1", "2", "3", "4", "#")
	assert.Equal(t, ActionSubmit, res.Action)
	assert.Equal(t, "+1 (301) 555-1234", res.Number)
}

func TestPoundRequiresTenDigits(t *testing.T) {
	h := NewHandler(logging.Discard())
	res := press(h, "3", "0", "1", "#")
	assert.Equal(t, ActionNone, res.Action)
	assert.Contains(t, res.Message, "at least ten digits")
	assert.Equal(t, "301", h.Buffer(), "short buffer is kept")
}

func TestStarClearsBuffer(t *testing.T) {
	h := NewHandler(logging.Discard())
	press(h, "3", "0", "1")
	res := h.Press("*")
	assert.Equal(t, ActionCleared, res.Action)
	assert.Empty(t, h.Buffer())
}

func TestProviderEncodingsNormalised(t *testing.T) {
	assert.Equal(t, "#", Normalize("11"))
	assert.Equal(t, "*", Normalize("10"))
	assert.Equal(t, "#", Normalize("pound"))
	assert.Equal(t, "*", Normalize("star"))
	assert.Equal(t, "7", Normalize(" 7 "))

	h := NewHandler(logging.Discard())
	res := press(h, "3", "0", "1", "5", "5", "5", "1", "2", "3", "4", "11")
	assert.Equal(t, ActionSubmit, res.Action)
}

func TestTransferShortcutMode(t *testing.T) {
	h := NewHandler(logging.Discard())
	h.SetMode(ModeTransferShortcut)

	res := h.Press("0")
	assert.Equal(t, ActionTransfer, res.Action)
	assert.Equal(t, ExtDispatcher, res.Extension)

	res = h.Press("1")
	assert.Equal(t, ActionTransfer, res.Action)
	assert.Equal(t, ExtDriver, res.Extension)

	res = h.Press("5")
	assert.Equal(t, ActionNone, res.Action)
}

func TestModeSwitchDropsBuffer(t *testing.T) {
	h := NewHandler(logging.Discard())
	press(h, "3", "0", "1")
	h.SetMode(ModeTransferShortcut)
	h.SetMode(ModePhoneCollect)
	assert.Empty(t, h.Buffer())
}
