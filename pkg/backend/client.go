package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/phone"
)

// Endpoints carries the full URL of each reservation-backend call.
// Empty URLs disable the corresponding operation.
type Endpoints struct {
	AffiliateList   string `mapstructure:"affiliate_list_url"`
	AffiliateDetail string `mapstructure:"affiliate_detail_url"`
	SearchClient    string `mapstructure:"search_client_url"`
	PaymentTypes    string `mapstructure:"payment_types_url"`
	Eligibility     string `mapstructure:"eligibility_url"`
	RiderProfile    string `mapstructure:"rider_profile_url"`
	HistoricRides   string `mapstructure:"historic_rides_url"`
	ExistingRides   string `mapstructure:"existing_rides_url"`
	TripStats       string `mapstructure:"trip_stats_url"`
	Directions      string `mapstructure:"directions_url"`
	DirectionsUser  string `mapstructure:"directions_user"`
	DirectionsPass  string `mapstructure:"directions_pass"`
	FareEstimate    string `mapstructure:"fare_estimate_url"`
	BookTrip        string `mapstructure:"book_trip_url"`
	Geocode         string `mapstructure:"geocode_url"`
}

// Client talks to the reservation backend. All calls share one
// http.Client with a 30 s total budget and a 10 s connect timeout.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(endpoints Endpoints, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoints: endpoints,
		logger:    logger,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// affiliateRecord is the wire shape of GetIvrAiAffiliate entries.
type affiliateRecord struct {
	AffiliateID       string `json:"AffiliateID"`
	AffiliateFamilyID string `json:"AffiliateFamilyID"`
	AffiliateName     string `json:"AffiliateName"`
	TwillioPhone      string `json:"TwillioPhoneNumber"`
	TypeForIVRAI      string `json:"TypeForIVRAI"`
}

// Affiliates fetches the whole affiliate directory.
func (c *Client) Affiliates(ctx context.Context) ([]Affiliate, error) {
	var records []affiliateRecord
	if err := c.postJSON(ctx, c.endpoints.AffiliateList, nil, &records); err != nil {
		return nil, err
	}
	out := make([]Affiliate, 0, len(records))
	for _, r := range records {
		aid, _ := strconv.Atoi(r.AffiliateID)
		fid, _ := strconv.Atoi(r.AffiliateFamilyID)
		out = append(out, Affiliate{
			AffiliateID:  aid,
			FamilyID:     fid,
			Name:         r.AffiliateName,
			TwilioNumber: r.TwillioPhone,
			IVRType:      r.TypeForIVRAI,
		})
	}
	return out, nil
}

// AffiliateByNumber resolves a recipient number against the directory.
// Numbers are compared in their national (country-code stripped) form.
func (c *Client) AffiliateByNumber(ctx context.Context, recipient string) (Affiliate, bool, error) {
	affiliates, err := c.Affiliates(ctx)
	if err != nil {
		return Affiliate{}, false, err
	}
	want := phone.National(recipient)
	for _, a := range affiliates {
		if phone.National(a.TwilioNumber) == want {
			return a, true, nil
		}
	}
	return Affiliate{}, false, nil
}

// AffiliateByIDs resolves an affiliate by its family/affiliate id pair.
func (c *Client) AffiliateByIDs(ctx context.Context, familyID, affiliateID int) (Affiliate, bool, error) {
	affiliates, err := c.Affiliates(ctx)
	if err != nil {
		return Affiliate{}, false, err
	}
	for _, a := range affiliates {
		if a.FamilyID == familyID && a.AffiliateID == affiliateID {
			return a, true, nil
		}
	}
	return Affiliate{}, false, nil
}

// AffiliateDetail fetches the service rectangle, funding sources, and
// copay funding source ids. Each section degrades independently to its
// zero value when the backend omits it.
func (c *Client) AffiliateDetail(ctx context.Context, affiliateID int) (Bounds, []FundingSource, []int, error) {
	var raw struct {
		Table1 []struct {
			AffiliateBounds string `json:"AffiliateBounds"`
		} `json:"Table1"`
		Table2 []FundingSource `json:"Table2"`
		Table  []struct {
			CopayFSList string `json:"CopayFSList"`
		} `json:"Table"`
	}
	req := map[string]any{"iaffiliateid": affiliateID}
	if err := c.postJSON(ctx, c.endpoints.AffiliateDetail, req, &raw); err != nil {
		return Bounds{}, nil, nil, err
	}

	var bounds Bounds
	if len(raw.Table1) > 0 {
		bounds = parseBounds(raw.Table1[0].AffiliateBounds)
	}
	var copayIDs []int
	if len(raw.Table) > 0 {
		for _, part := range strings.Split(raw.Table[0].CopayFSList, ",") {
			if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				copayIDs = append(copayIDs, id)
			}
		}
	}
	return bounds, raw.Table2, copayIDs, nil
}

// parseBounds decodes the backend's "x1,y1|x2,y2" rectangle string.
// Malformed input yields the unbounded sentinel.
func parseBounds(s string) Bounds {
	lower, upper, ok := strings.Cut(s, "|")
	if !ok {
		return Bounds{}
	}
	x1, y1, ok1 := cutFloats(lower)
	x2, y2, ok2 := cutFloats(upper)
	if !ok1 || !ok2 {
		return Bounds{}
	}
	return Bounds{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func cutFloats(s string) (float64, float64, bool) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	fa, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	return fa, fb, err1 == nil && err2 == nil
}

// clientRecord is the wire shape inside SearchClientData's responseJSON.
type clientRecord struct {
	ID        int    `json:"Id"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	MedicalID string `json:"MedicalId"`
	Address   string `json:"Address"`
	City      string `json:"City"`
	State     string `json:"State"`
	Phone     string `json:"Phone"`
}

type envelope struct {
	ResponseCode int    `json:"responseCode"`
	ResponseJSON string `json:"responseJSON"`
}

// SearchClientsByPhone looks up rider profiles by caller number. The
// number is sent in national form; zero matches is not an error.
func (c *Client) SearchClientsByPhone(ctx context.Context, caller string, affiliateID, familyID int) ([]RiderProfile, error) {
	req := map[string]any{
		"searchCriteria": "CustomerPhone",
		"searchText":     phone.National(caller),
		"bActiveRecords": true,
		"iATSPID":        affiliateID,
		"iDTSPID":        familyID,
	}
	var env envelope
	if err := c.postJSON(ctx, c.endpoints.SearchClient, req, &env); err != nil {
		return nil, err
	}
	if env.ResponseCode != 200 {
		return nil, errorsx.New(errorsx.ReasonBackendStatus, "search client responseCode %d", env.ResponseCode)
	}
	var records []clientRecord
	if err := json.Unmarshal([]byte(env.ResponseJSON), &records); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBackendDecode, "decode client list")
	}
	out := make([]RiderProfile, 0, len(records))
	for _, r := range records {
		riderID := "Unknown"
		if id, err := strconv.Atoi(strings.TrimSpace(r.MedicalID)); err == nil && id != 0 {
			riderID = strconv.Itoa(id)
		}
		out = append(out, RiderProfile{
			ClientID:    r.ID,
			RiderID:     riderID,
			Name:        strings.TrimSpace(r.FirstName + " " + r.LastName),
			PhoneE164:   r.Phone,
			HomeAddress: r.Address,
			HomeCity:    r.City,
			HomeState:   r.State,
		})
	}
	return out, nil
}

// PaymentTypes returns the affiliate's payment type catalog. The
// backend double-encodes the list as a JSON string.
func (c *Client) PaymentTypes(ctx context.Context, affiliateID int) ([]PaymentType, error) {
	req := map[string]any{"iaffiliateid": strconv.Itoa(affiliateID)}
	var raw json.RawMessage
	if err := c.postJSON(ctx, c.endpoints.PaymentTypes, req, &raw); err != nil {
		return nil, err
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	var types []PaymentType
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBackendDecode, "decode payment types")
	}
	return types, nil
}

// CheckEligibility verifies a rider against a funding program and, when
// verification succeeds, fetches the verified name.
func (c *Client) CheckEligibility(ctx context.Context, riderID string, tspID, programID int) (Eligibility, error) {
	req := map[string]any{"riderID": riderID, "tspid": tspID, "programid": programID}
	var elig Eligibility
	if err := c.postJSON(ctx, c.endpoints.Eligibility, req, &elig); err != nil {
		return Eligibility{}, err
	}
	if !elig.Verified || c.endpoints.RiderProfile == "" {
		return elig, nil
	}
	var profile struct {
		FirstName string `json:"FirstName"`
		LastName  string `json:"LastName"`
	}
	if err := c.postJSON(ctx, c.endpoints.RiderProfile, req, &profile); err != nil {
		c.logger.Warn("rider_profile_fetch_failed", "error", err)
		return elig, nil
	}
	elig.FirstName = profile.FirstName
	elig.LastName = profile.LastName
	return elig, nil
}

// HistoricRides returns past completed rides as raw JSON records.
func (c *Client) HistoricRides(ctx context.Context, clientID, affiliateID int) ([]map[string]any, error) {
	req := map[string]any{"clientID": clientID, "affiliateID": affiliateID}
	return c.rideList(ctx, c.endpoints.HistoricRides, req)
}

// ExistingRides returns the rider's active trips.
func (c *Client) ExistingRides(ctx context.Context, clientID, affiliateID int) ([]map[string]any, error) {
	req := map[string]any{
		"searchCriteria": "CustomerID",
		"searchText":     strconv.Itoa(clientID),
		"bActiveRecords": true,
		"iATSPID":        affiliateID,
	}
	return c.rideList(ctx, c.endpoints.ExistingRides, req)
}

func (c *Client) rideList(ctx context.Context, endpoint string, req map[string]any) ([]map[string]any, error) {
	var env envelope
	if err := c.postJSON(ctx, endpoint, req, &env); err != nil {
		return nil, err
	}
	if env.ResponseCode != 200 {
		return nil, errorsx.New(errorsx.ReasonBackendStatus, "ride list responseCode %d", env.ResponseCode)
	}
	var rides []map[string]any
	if err := json.Unmarshal([]byte(env.ResponseJSON), &rides); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBackendDecode, "decode ride list")
	}
	return rides, nil
}

// TripStats returns the nested per-client trip statistics document.
func (c *Client) TripStats(ctx context.Context, clientID int) (map[string]any, error) {
	req := map[string]any{"iclientid": clientID}
	var stats map[string]any
	if err := c.postJSON(ctx, c.endpoints.TripStats, req, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Directions asks the routing service for the first leg between two
// points. Uses basic auth and the FCSTService app type.
func (c *Client) Directions(ctx context.Context, originLat, originLng, destLat, destLng float64) (RouteLeg, error) {
	if c.endpoints.Directions == "" {
		return RouteLeg{}, errorsx.New(errorsx.ReasonConfigMissing, "directions endpoint not configured")
	}
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", originLat, originLng))
	q.Set("destination", fmt.Sprintf("%f,%f", destLat, destLng))
	q.Set("AppType", "FCSTService")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Directions+"?"+q.Encode(), nil)
	if err != nil {
		return RouteLeg{}, errorsx.Wrap(err, errorsx.ReasonBackendRequest, "build directions request")
	}
	if c.endpoints.DirectionsUser != "" {
		req.SetBasicAuth(c.endpoints.DirectionsUser, c.endpoints.DirectionsPass)
	}

	var raw struct {
		Routes []struct {
			Legs []struct {
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"legs"`
		} `json:"routes"`
	}
	if err := c.do(req, &raw); err != nil {
		return RouteLeg{}, err
	}
	if len(raw.Routes) == 0 || len(raw.Routes[0].Legs) == 0 {
		return RouteLeg{}, errorsx.New(errorsx.ReasonBackendDecode, "directions response has no legs")
	}
	leg := raw.Routes[0].Legs[0]
	return RouteLeg{DistanceMeters: leg.Distance.Value, DurationSeconds: leg.Duration.Value}, nil
}

// Fare asks the estimator for total cost and copay.
func (c *Client) Fare(ctx context.Context, req FareRequest) (FareEstimate, error) {
	var fare FareEstimate
	if err := c.postJSON(ctx, c.endpoints.FareEstimate, req, &fare); err != nil {
		return FareEstimate{}, err
	}
	return fare, nil
}

// BookTrip submits the final booking payload as-is.
func (c *Client) BookTrip(ctx context.Context, payload json.RawMessage) (BookResult, error) {
	var result BookResult
	if err := c.postJSON(ctx, c.endpoints.BookTrip, payload, &result); err != nil {
		return BookResult{}, err
	}
	return result, nil
}

// Geocode resolves an address to candidate locations, order preserved.
func (c *Client) Geocode(ctx context.Context, address string) ([]GeoLocation, error) {
	if c.endpoints.Geocode == "" {
		return nil, errorsx.New(errorsx.ReasonConfigMissing, "geocode endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Geocode+"?address="+url.QueryEscape(address), nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBackendRequest, "build geocode request")
	}

	var raw struct {
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
			AddressComponents []struct {
				LongName string   `json:"long_name"`
				Types    []string `json:"types"`
			} `json:"address_components"`
		} `json:"results"`
	}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	if len(raw.Results) == 0 {
		return nil, errorsx.New(errorsx.ReasonGeocodeEmpty, "no geocode results for address")
	}

	out := make([]GeoLocation, 0, len(raw.Results))
	for _, r := range raw.Results {
		loc := GeoLocation{
			FormattedAddress: r.FormattedAddress,
			Lat:              r.Geometry.Location.Lat,
			Lng:              r.Geometry.Location.Lng,
		}
		for _, comp := range r.AddressComponents {
			for _, t := range comp.Types {
				switch t {
				case "locality":
					loc.City = comp.LongName
				case "administrative_area_level_1":
					loc.State = comp.LongName
				case "administrative_area_level_2":
					loc.County = comp.LongName
				case "postal_code":
					loc.Zip = comp.LongName
				}
			}
		}
		out = append(out, loc)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	if endpoint == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "endpoint not configured")
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonBackendRequest, "encode request body")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return errorsx.New(errorsx.ReasonBackendStatus, "%s returned HTTP %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendDecode, "decode response from %s", req.URL.Path)
	}
	return nil
}
