// Package transfer hands a live call to a human over SIP. It rewrites
// the in-progress Twilio call with a <Dial><Sip> document pointing at
// the Asterisk box, so the carrier leg survives while the media stream
// is torn down.
package transfer

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/alinavoice/alina/pkg/errorsx"
)

// Well-known extensions on the dispatch PBX.
const (
	ExtDispatcher = "5000"
	ExtDriver     = "5001"
)

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

type twilioUpdater struct {
	client *twilio.RestClient
}

func (u twilioUpdater) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	return u.client.Api.UpdateCall(sid, params)
}

// Client issues SIP transfers for live calls. Once a call has been
// transferred it is locked: further attempts for the same call SID
// fail with ReasonTransferLocked.
type Client struct {
	updater    callUpdater
	asteriskIP string
	logger     *slog.Logger

	mu          sync.Mutex
	transferred map[string]struct{}
}

func New(accountSID, authToken, asteriskIP string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{
		updater:     twilioUpdater{client: rest},
		asteriskIP:  asteriskIP,
		logger:      logger,
		transferred: make(map[string]struct{}),
	}
}

type dialSip struct {
	XMLName xml.Name `xml:"Response"`
	Dial    struct {
		Sip string `xml:"Sip"`
	} `xml:"Dial"`
}

// twiml renders the redirect document. Ringback is suppressed: the
// caller hears silence until the extension answers.
func (c *Client) twiml(extension string) (string, string) {
	uri := fmt.Sprintf("sip:%s@%s", extension, c.asteriskIP)
	doc := dialSip{}
	doc.Dial.Sip = uri
	out, _ := xml.Marshal(doc)
	return uri, xml.Header + string(out)
}

// Transfer redirects callSID to the given PBX extension. The lock is
// taken before the network call so a racing supervisor and DTMF
// shortcut cannot both redirect the same call.
func (c *Client) Transfer(ctx context.Context, callSID, extension string) error {
	if c.asteriskIP == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "asterisk ip not configured")
	}

	c.mu.Lock()
	if _, done := c.transferred[callSID]; done {
		c.mu.Unlock()
		return errorsx.New(errorsx.ReasonTransferLocked, "call %s already transferred", callSID)
	}
	c.transferred[callSID] = struct{}{}
	c.mu.Unlock()

	uri, body := c.twiml(extension)
	params := &api.UpdateCallParams{}
	params.SetTwiml(body)

	if _, err := c.updater.UpdateCall(callSID, params); err != nil {
		c.mu.Lock()
		delete(c.transferred, callSID)
		c.mu.Unlock()
		return errorsx.Wrap(err, errorsx.ReasonTransferSIP)
	}

	c.logger.Info("call_transferred", "call_sid", callSID, "sip_uri", uri)
	return nil
}

// Transferred reports whether the call was already handed off.
func (c *Client) Transferred(callSID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, done := c.transferred[callSID]
	return done
}
