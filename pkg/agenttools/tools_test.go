package agenttools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/logging"
	"github.com/alinavoice/alina/pkg/resilience"
	"github.com/alinavoice/alina/pkg/websearch"
)

type stubMatcher struct {
	reply string
}

func (s *stubMatcher) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	return llm.Response{Text: s.reply, Usage: llm.Usage{PromptTokens: 80, CompletionTokens: 20}}, nil
}

func (s *stubMatcher) Stream(ctx context.Context, input llm.Context) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (s *stubMatcher) MapTools(tools []llm.Tool) (any, error)      { return nil, nil }
func (s *stubMatcher) ToProviderFormat(c llm.Context) (any, error) { return nil, nil }
func (s *stubMatcher) FromProviderFormat(raw any) (llm.Response, error) {
	return llm.Response{}, nil
}
func (s *stubMatcher) Name() string { return "stub-mini" }

type stubSearcher struct {
	check   websearch.AddressCheck
	weather string
}

func (s *stubSearcher) Search(ctx context.Context, prompt string) (string, error) {
	return "searched: " + prompt, nil
}

func (s *stubSearcher) SearchSummarized(ctx context.Context, prompt string) (string, error) {
	return "summary: " + prompt, nil
}

func (s *stubSearcher) VerifyAddress(ctx context.Context, address string) (websearch.AddressCheck, error) {
	return s.check, nil
}

func (s *stubSearcher) Weather(ctx context.Context, address string) string {
	return s.weather
}

func (s *stubSearcher) GetAddress(ctx context.Context, prompt, country, city, state string) (string, error) {
	return "123 Found Pl, " + city + ", " + state, nil
}

// fakeBackend stands up one server that answers every reservation
// endpoint the tools touch.
type fakeBackend struct {
	srv          *httptest.Server
	bookAttempts atomic.Int32
	bookFailures int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Table1": []map[string]string{{"AffiliateBounds": "38.0,-78.0|40.0,-76.0"}},
			"Table2": []map[string]any{
				{"FID": 7, "FundingSource": "WMATA", "ProgramID": 3},
				{"FID": 9, "FundingSource": "Private Pay", "ProgramID": -1},
			},
			"Table": []map[string]string{{"CopayFSList": "9"}},
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		clients, _ := json.Marshal([]map[string]any{
			{"Id": 960747, "FirstName": "Jane", "LastName": "Doe", "MedicalId": "12345", "Address": "1 Main St", "City": "Gaithersburg", "State": "MD"},
		})
		json.NewEncoder(w).Encode(map[string]any{"responseCode": 200, "responseJSON": string(clients)})
	})
	mux.HandleFunc("/paymenttypes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"iPaymentTypeID": 4, "sPaymentType": "WMATA"},
			{"iPaymentTypeID": 2, "sPaymentType": "Cash"},
		})
	})
	mux.HandleFunc("/eligibility", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"VerificationSuccess": true, "FirstName": "Jane", "LastName": "Doe"})
	})
	mux.HandleFunc("/directions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"routes": []map[string]any{{
				"legs": []map[string]any{{
					"distance": map[string]float64{"value": 16093.44},
					"duration": map[string]float64{"value": 1200},
				}},
			}},
		})
	})
	mux.HandleFunc("/fare", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"totalCost": 24.50, "copay": 2.00})
	})
	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		n := fb.bookAttempts.Add(1)
		if n <= fb.bookFailures {
			json.NewEncoder(w).Encode(map[string]any{"responseCode": 500, "iRefID": 0, "message": "backend busy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"responseCode": 200, "iRefID": 777123, "returnLegsList": []int{777124}})
	})
	mux.HandleFunc("/rides", func(w http.ResponseWriter, r *http.Request) {
		rides, _ := json.Marshal([]map[string]any{
			{"iRefID": 555001, "PickupAddress": "1 Main St, Gaithersburg, MD", "DropoffAddress": "9 Clinic Way, Rockville, MD"},
			{"iRefID": 555000, "PickupAddress": "9 Clinic Way, Rockville, MD", "DropoffAddress": "1 Main St, Gaithersburg, MD"},
		})
		json.NewEncoder(w).Encode(map[string]any{"responseCode": 200, "responseJSON": string(rides)})
	})
	mux.HandleFunc("/tripstats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total_trips":     25,
			"completed_trips": 20,
			"cancelled_trips": 3,
			"no_show_trips":   2,
			"average_cost":    12.50,
		})
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) client() *backend.Client {
	u := fb.srv.URL
	return backend.NewClient(backend.Endpoints{
		AffiliateDetail: u + "/detail",
		SearchClient:    u + "/search",
		PaymentTypes:    u + "/paymenttypes",
		Eligibility:     u + "/eligibility",
		Directions:      u + "/directions",
		DirectionsUser:  "SIV",
		DirectionsPass:  "secret",
		FareEstimate:    u + "/fare",
		BookTrip:        u + "/book",
		HistoricRides:   u + "/rides",
		ExistingRides:   u + "/rides",
		TripStats:       u + "/tripstats",
	}, logging.Discard())
}

func newTestToolbox(t *testing.T, fb *fakeBackend, matcher llm.LLMAdapter, web Searcher) *Toolbox {
	t.Helper()
	tb := New(fb.client(), web, matcher, logging.Discard())
	tb.PayloadLogDir = t.TempDir()
	tb.bookingRetry = resilience.NewExponentialPolicy(3, time.Millisecond)
	tb.BindCall("CA123", "+13015551234", 21, 4)
	return tb
}

func mainLegArgs() map[string]any {
	return map[string]any{
		"pickup_street_address":  "1 Main St",
		"dropoff_street_address": "9 Clinic Way",
		"pickup_city":            "Gaithersburg",
		"dropoff_city":           "Rockville",
		"pickup_state":           "MD",
		"dropoff_state":          "MD",
		"pickup_zip":             "20879",
		"dropoff_zip":            "20850",
		"pickup_lat":             "39.17",
		"pickup_lng":             "-77.19",
		"dropoff_lat":            "39.08",
		"dropoff_lng":            "-77.15",
		"client_id":              "960747",
		"rider_id":               "12345",
		"rider_name":             "Jane Doe",
		"funding_source_id":      "7",
		"payment_type_id":        "4",
		"booking_time":           "2026-09-01 09:30",
		"total_passengers":       float64(1),
		"total_wheelchairs":      float64(0),
	}
}

func TestGetClientNameReturnsProfiles(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetClientName, map[string]any{"caller_number": "+13015551234"})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 1, result["number_of_riders"])
	rider := result["rider_1"].(map[string]any)
	assert.Equal(t, "Jane Doe", rider["name"])
	assert.EqualValues(t, 960747, rider["client_id"])
}

func TestGetClientNameDegradesToNewRider(t *testing.T) {
	fb := newFakeBackend(t)
	tb := newTestToolbox(t, fb, &stubMatcher{}, &stubSearcher{})
	fb.srv.Close()

	out, err := tb.HandleTool(ToolGetClientName, map[string]any{"caller_number": "+13015551234"})
	require.NoError(t, err)
	assert.Contains(t, out, "new_rider")
}

func TestGetValidAddressesAnnotatesServiceArea(t *testing.T) {
	web := &stubSearcher{check: websearch.AddressCheck{
		Valid:             true,
		NormalizedAddress: "1 Main St, Gaithersburg, MD 20879",
		Latitude:          39.17,
		Longitude:         -77.19,
		Confidence:        0.95,
	}}
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, web)

	out, err := tb.HandleTool(ToolGetValidAddresses, map[string]any{"address": "1 main street gaithersburg"})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["valid"])
	assert.Equal(t, true, result["isWithinServiceArea"])

	out, err = tb.HandleTool(ToolCheckBounds, map[string]any{"latitude": 45.0, "longitude": -77.19})
	require.NoError(t, err)
	assert.Equal(t, "False", out)
}

func TestCheckBoundsFailsOpenWithoutAffiliateDetail(t *testing.T) {
	fb := newFakeBackend(t)
	tb := newTestToolbox(t, fb, &stubMatcher{}, &stubSearcher{})
	fb.srv.Close()

	out, err := tb.HandleTool(ToolCheckBounds, map[string]any{"latitude": 1.0, "longitude": 1.0})
	require.NoError(t, err)
	assert.Equal(t, "True", out)
}

func TestGetIDsMatchesMangledFundingSource(t *testing.T) {
	matcher := &stubMatcher{reply: `{"funding_source_id": 7, "program_id": 3, "payment_type_id": 4, "matched_name": "WMATA", "confident": true}`}
	tb := newTestToolbox(t, newFakeBackend(t), matcher, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetIDs, map[string]any{"account_": "Vomata"})
	require.NoError(t, err)
	assert.Contains(t, out, "WMATA")
	assert.Contains(t, out, `"funding_source_id": 7`)
	assert.Contains(t, out, "requires rider verification")
}

func TestGetIDsUnconfidentListsCatalog(t *testing.T) {
	matcher := &stubMatcher{reply: `{"confident": false}`}
	tb := newTestToolbox(t, newFakeBackend(t), matcher, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetIDs, map[string]any{"account_": "gibberish"})
	require.NoError(t, err)
	assert.Contains(t, out, "WMATA")
	assert.Contains(t, out, "Private Pay")
	assert.Contains(t, out, "confirm")
}

func TestGetCopayIDsNarrowsToCopayCatalog(t *testing.T) {
	matcher := &stubMatcher{reply: `{"funding_source_id": 9, "program_id": -1, "payment_type_id": 2, "matched_name": "Private Pay", "confident": true}`}
	tb := newTestToolbox(t, newFakeBackend(t), matcher, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetCopayIDs, map[string]any{"copay_account_name": "private"})
	require.NoError(t, err)
	assert.Contains(t, out, "copay account Private Pay")
}

func TestVerifyRiderSkipsWhenNoProgram(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolVerifyRider, map[string]any{"rider_id": "12345", "program_id": float64(-1)})
	require.NoError(t, err)
	assert.Contains(t, out, "No verification is required")

	out, err = tb.HandleTool(ToolVerifyRider, map[string]any{"rider_id": "12345", "program_id": float64(3)})
	require.NoError(t, err)
	assert.Contains(t, out, "verified")
	assert.Contains(t, out, "Jane Doe")
}

func TestFareRejectsUnverifiedCoordinates(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetDistanceFare, map[string]any{
		"pickup_lat": float64(0), "pickup_lng": float64(0),
		"dropoff_lat": 39.08, "dropoff_lng": -77.15,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Pick Up address is not verified")
	assert.Contains(t, out, "[get_valid_addresses]")
}

func TestFareNarratesDistanceAndCost(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetDistanceFare, map[string]any{
		"pickup_lat": 39.17, "pickup_lng": -77.19,
		"dropoff_lat": 39.08, "dropoff_lng": -77.15,
		"passengers": float64(1),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "10.0 miles")
	assert.Contains(t, out, "$24.50")
	assert.Contains(t, out, "$2.00")
}

func TestCollectLegIsIdempotent(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolCollectMainTrip, mainLegArgs())
	require.NoError(t, err)
	assert.Contains(t, out, "main leg is ready")
	assert.True(t, tb.HasPendingLegs())
	assert.True(t, tb.TransferAllowed())

	// A second collect overwrites, never stacks.
	_, err = tb.HandleTool(ToolCollectMainTrip, mainLegArgs())
	require.NoError(t, err)
	assert.True(t, tb.HasPendingLegs())
}

func TestBookTripsWithoutLegs(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolBookTrips, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "no trip to book")
}

func TestBookTripsClearsLegsAndDisablesTransfer(t *testing.T) {
	fb := newFakeBackend(t)
	tb := newTestToolbox(t, fb, &stubMatcher{}, &stubSearcher{weather: "Expect light rain in Rockville this afternoon."})

	_, err := tb.HandleTool(ToolCollectMainTrip, mainLegArgs())
	require.NoError(t, err)

	out, err := tb.HandleTool(ToolBookTrips, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "777123")
	assert.Contains(t, out, "light rain")
	assert.False(t, tb.HasPendingLegs())
	assert.False(t, tb.TransferAllowed())
	assert.True(t, tb.Booked())

	// Payload artifact lands once, before the attempt.
	entries, err := os.ReadDir(tb.PayloadLogDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "final_payload_CA123.txt", entries[0].Name())
	body, err := os.ReadFile(filepath.Join(tb.PayloadLogDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "9 Clinic Way")
}

func TestBookTripsRetriesThenSucceeds(t *testing.T) {
	fb := newFakeBackend(t)
	fb.bookFailures = 1
	tb := newTestToolbox(t, fb, &stubMatcher{}, &stubSearcher{})

	_, err := tb.HandleTool(ToolCollectMainTrip, mainLegArgs())
	require.NoError(t, err)

	out, err := tb.HandleTool(ToolBookTrips, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "777123")
	assert.EqualValues(t, 2, fb.bookAttempts.Load())
}

func TestBookTripsKeepsLegsOnFailure(t *testing.T) {
	fb := newFakeBackend(t)
	fb.bookFailures = 99
	tb := newTestToolbox(t, fb, &stubMatcher{}, &stubSearcher{})

	_, err := tb.HandleTool(ToolCollectMainTrip, mainLegArgs())
	require.NoError(t, err)

	out, err := tb.HandleTool(ToolBookTrips, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "could not be completed")
	assert.True(t, tb.HasPendingLegs())
	assert.False(t, tb.Booked())
}

func TestGetETAAndHistoryIncludeLatestReference(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolGetETA, map[string]any{"client_id": float64(960747)})
	require.NoError(t, err)
	assert.Contains(t, out, "555001")

	out, err = tb.HandleTool(ToolGetFrequentAddresses, map[string]any{"client_id": float64(960747)})
	require.NoError(t, err)
	assert.Contains(t, out, "1 Main St, Gaithersburg, MD")
	assert.Contains(t, out, "9 Clinic Way, Rockville, MD")
	// Each unique address appears once across both ride directions.
	assert.Equal(t, 1, strings.Count(out, `"1 Main St, Gaithersburg, MD"`))
}

func TestGetTripStatsUsesPinnedClient(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	// Without an identified rider the model gets redirected.
	out, err := tb.HandleTool(ToolGetTripStats, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "get_client_name")

	tb.SetClientID("960747")
	out, err = tb.HandleTool(ToolGetTripStats, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"total_trips": 25`)
	assert.Contains(t, out, `"cancelled_trips": 3`)

	// An explicit id wins over the pinned one.
	out, err = tb.HandleTool(ToolGetTripStats, map[string]any{"client_id": float64(960747)})
	require.NoError(t, err)
	assert.Contains(t, out, `"completed_trips": 20`)
}

func TestCloseCallSpeaksAndHangsUp(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})
	var said string
	var hung bool
	tb.Say = func(text string) { said = text }
	tb.Hangup = func(ctx context.Context) error { hung = true; return nil }

	out, err := tb.HandleTool(ToolCloseCall, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "call is ending")
	assert.Contains(t, said, "Goodbye")
	assert.True(t, hung)
}

func TestSelectRiderProfilePinsClientID(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})

	out, err := tb.HandleTool(ToolSelectRider, map[string]any{"client_id": "960747", "rider_name": "Jane Doe"})
	require.NoError(t, err)
	assert.Contains(t, out, "Jane Doe")
	assert.Equal(t, "960747", tb.ClientID())

	// Sentinel ids never pin.
	_, err = tb.HandleTool(ToolSelectRider, map[string]any{"client_id": "-1"})
	require.NoError(t, err)
	assert.Equal(t, "960747", tb.ClientID())
}

func TestUnknownToolIsRefused(t *testing.T) {
	tb := newTestToolbox(t, newFakeBackend(t), &stubMatcher{}, &stubSearcher{})
	out, err := tb.HandleTool("rm_rf", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Unknown function")
}
