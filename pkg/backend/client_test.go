package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/logging"
)

func TestAffiliateByNumberMatchesNationalForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"AffiliateID": "21", "AffiliateFamilyID": "4", "AffiliateName": "Barwood", "TwillioPhoneNumber": "3854156545", "TypeForIVRAI": "ivr"},
		})
	}))
	defer srv.Close()

	c := NewClient(Endpoints{AffiliateList: srv.URL}, logging.Discard())
	aff, ok, err := c.AffiliateByNumber(context.Background(), "+13854156545")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, aff.AffiliateID)
	assert.Equal(t, 4, aff.FamilyID)
	assert.Equal(t, "Barwood", aff.Name)
}

func TestAffiliateDetailParsesBoundsAndCopayList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		assert.EqualValues(t, 21, req["iaffiliateid"])
		json.NewEncoder(w).Encode(map[string]any{
			"Table1": []map[string]string{{"AffiliateBounds": "38.8,-77.2|39.3,-76.4"}},
			"Table2": []map[string]any{{"FID": 7, "FundingSource": "WMATA", "ProgramID": 3}},
			"Table":  []map[string]string{{"CopayFSList": "7, 9"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Endpoints{AffiliateDetail: srv.URL}, logging.Discard())
	bounds, funding, copay, err := c.AffiliateDetail(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, Bounds{X1: 38.8, Y1: -77.2, X2: 39.3, Y2: -76.4}, bounds)
	require.Len(t, funding, 1)
	assert.Equal(t, "WMATA", funding[0].Name)
	assert.Equal(t, []int{7, 9}, copay)
}

func TestAffiliateDetailMalformedBoundsIsUnbounded(t *testing.T) {
	assert.True(t, parseBounds("garbage").IsZero())
	assert.True(t, parseBounds("1,2").IsZero())
}

func TestSearchClientsDecodesDoubleEncodedList(t *testing.T) {
	clients, _ := json.Marshal([]map[string]any{
		{"Id": 960747, "FirstName": "Jane", "LastName": "Doe", "MedicalId": "12345", "Address": "1 Main St", "City": "Gaithersburg", "State": "MD"},
		{"Id": 960748, "FirstName": "John", "LastName": "Doe", "MedicalId": "0"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "CustomerPhone", req["searchCriteria"])
		assert.Equal(t, "3854156545", req["searchText"])
		json.NewEncoder(w).Encode(map[string]any{"responseCode": 200, "responseJSON": string(clients)})
	}))
	defer srv.Close()

	c := NewClient(Endpoints{SearchClient: srv.URL}, logging.Discard())
	riders, err := c.SearchClientsByPhone(context.Background(), "+13854156545", 21, 4)
	require.NoError(t, err)
	require.Len(t, riders, 2)
	assert.Equal(t, "Jane Doe", riders[0].Name)
	assert.Equal(t, "12345", riders[0].RiderID)
	assert.Equal(t, "Unknown", riders[1].RiderID)
}

func TestDirectionsReadsFirstLeg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "SIV", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "FCSTService", r.URL.Query().Get("AppType"))
		json.NewEncoder(w).Encode(map[string]any{
			"routes": []map[string]any{{
				"legs": []map[string]any{{
					"distance": map[string]float64{"value": 12874.752},
					"duration": map[string]float64{"value": 900},
				}},
			}},
		})
	}))
	defer srv.Close()

	c := NewClient(Endpoints{Directions: srv.URL, DirectionsUser: "SIV", DirectionsPass: "secret"}, logging.Discard())
	leg, err := c.Directions(context.Background(), 39.17, -77.19, 39.10, -77.10)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, leg.Miles(), 0.01)
	assert.InDelta(t, 15.0, leg.Minutes(), 0.01)
}

func TestGeocodeExtractsComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "8201 Snouffer School Road", r.URL.Query().Get("address"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"formatted_address": "8201 Snouffer School Rd, Gaithersburg, MD 20879",
				"geometry":          map[string]any{"location": map[string]float64{"lat": 39.17, "lng": -77.19}},
				"address_components": []map[string]any{
					{"long_name": "Gaithersburg", "types": []string{"locality"}},
					{"long_name": "Maryland", "types": []string{"administrative_area_level_1"}},
					{"long_name": "Montgomery County", "types": []string{"administrative_area_level_2"}},
					{"long_name": "20879", "types": []string{"postal_code"}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewClient(Endpoints{Geocode: srv.URL}, logging.Discard())
	locs, err := c.Geocode(context.Background(), "8201 Snouffer School Road")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Gaithersburg", locs[0].City)
	assert.Equal(t, "Montgomery County", locs[0].County)
	assert.Equal(t, 39.17, locs[0].Lat)
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{X1: 38.8, Y1: -77.2, X2: 39.3, Y2: -76.4}
	assert.True(t, b.Contains(39.17, -77.19))
	assert.True(t, b.Contains(38.8, -77.2), "boundary inclusive")
	assert.False(t, b.Contains(40.0, -77.0))
	assert.True(t, b.Contains(0, 0), "zero point never blocks")
	assert.True(t, Bounds{}.Contains(40.0, -77.0), "unbounded rectangle")
}

func TestMissingEndpointIsConfigError(t *testing.T) {
	c := NewClient(Endpoints{}, logging.Discard())
	_, err := c.Affiliates(context.Background())
	require.Error(t, err)
}
