package transfer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/errorsx"
)

type fakeUpdater struct {
	sids   []string
	twimls []string
	err    error
}

func (f *fakeUpdater) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	f.sids = append(f.sids, sid)
	if params.Twiml != nil {
		f.twimls = append(f.twimls, *params.Twiml)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.ApiV2010Call{}, nil
}

func testClient(u callUpdater) *Client {
	return &Client{
		updater:     u,
		asteriskIP:  "10.0.0.42",
		logger:      slog.New(slog.DiscardHandler),
		transferred: make(map[string]struct{}),
	}
}

func TestTransferBuildsSipDial(t *testing.T) {
	fake := &fakeUpdater{}
	c := testClient(fake)

	err := c.Transfer(context.Background(), "CA100", ExtDispatcher)

	require.NoError(t, err)
	require.Len(t, fake.twimls, 1)
	assert.Contains(t, fake.twimls[0], "<Sip>sip:5000@10.0.0.42</Sip>")
	assert.Equal(t, []string{"CA100"}, fake.sids)
	assert.True(t, c.Transferred("CA100"))
}

func TestSecondTransferLocked(t *testing.T) {
	fake := &fakeUpdater{}
	c := testClient(fake)

	require.NoError(t, c.Transfer(context.Background(), "CA100", ExtDispatcher))
	err := c.Transfer(context.Background(), "CA100", ExtDriver)

	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransferLocked))
	assert.Len(t, fake.sids, 1)
}

func TestFailedTransferReleasesLock(t *testing.T) {
	fake := &fakeUpdater{err: errors.New("twilio 20404")}
	c := testClient(fake)

	err := c.Transfer(context.Background(), "CA100", ExtDispatcher)
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransferSIP))
	assert.False(t, c.Transferred("CA100"))

	fake.err = nil
	assert.NoError(t, c.Transfer(context.Background(), "CA100", ExtDispatcher))
}

func TestMissingAsteriskIP(t *testing.T) {
	c := testClient(&fakeUpdater{})
	c.asteriskIP = ""

	err := c.Transfer(context.Background(), "CA100", ExtDispatcher)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonConfigMissing))
}
