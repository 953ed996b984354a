package backend

// Bounds is a lat/lng service rectangle. The all-zero rectangle is a
// sentinel meaning bounds are not enforced.
type Bounds struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Bounds) IsZero() bool {
	return b.X1 == 0 && b.Y1 == 0 && b.X2 == 0 && b.Y2 == 0
}

// Contains reports whether the point sits inside the rectangle,
// boundary inclusive. Unbounded rectangles and zero points never
// block service.
func (b Bounds) Contains(lat, lng float64) bool {
	if b.IsZero() {
		return true
	}
	if lat == 0 && lng == 0 {
		return true
	}
	return lat >= b.X1 && lat <= b.X2 && lng >= b.Y1 && lng <= b.Y2
}

// FundingSource mirrors the backend's Table2 records.
type FundingSource struct {
	ID        int    `json:"FID"`
	Name      string `json:"FundingSource"`
	ProgramID int    `json:"ProgramID"`
}

type Affiliate struct {
	AffiliateID    int             `json:"affiliate_id"`
	FamilyID       int             `json:"family_id"`
	Name           string          `json:"name"`
	TwilioNumber   string          `json:"twilio_number"`
	IVRType        string          `json:"ivr_type"`
	ServiceBounds  Bounds          `json:"service_bounds"`
	FundingSources []FundingSource `json:"funding_sources"`
	CopayFSIDs     []int           `json:"copay_funding_source_ids"`
}

// Rider profile sentinels for callers with no record and widget
// sessions opened without a phone number.
const (
	RiderNew     = "new_rider"
	RiderUnknown = "unknown"
)

type RiderProfile struct {
	ClientID      int    `json:"client_id"`
	RiderID       string `json:"rider_id"`
	Name          string `json:"name"`
	PhoneE164     string `json:"phone_e164"`
	HomeAddress   string `json:"home_address"`
	HomeCity      string `json:"home_city"`
	HomeState     string `json:"home_state"`
	ExistingTrips int    `json:"number_of_existing_trips"`
	Sentinel      string `json:"sentinel,omitempty"`
}

func NewRiderSentinel() RiderProfile {
	return RiderProfile{ClientID: -1, Sentinel: RiderNew}
}

func UnknownRiderSentinel() RiderProfile {
	return RiderProfile{ClientID: -1, Sentinel: RiderUnknown}
}

type PaymentType struct {
	ID   int    `json:"iPaymentTypeID"`
	Name string `json:"sPaymentType"`
}

type RouteLeg struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Miles converts the leg distance from meters.
func (l RouteLeg) Miles() float64 { return l.DistanceMeters / 1609.344 }

// Minutes converts the leg duration from seconds.
func (l RouteLeg) Minutes() float64 { return l.DurationSeconds / 60 }

type FareEstimate struct {
	TotalCost float64 `json:"totalCost"`
	Copay     float64 `json:"copay"`
}

type FareRequest struct {
	Distance            float64 `json:"distance"`
	TravelTime          float64 `json:"travelTime"`
	FundingSourceID     int     `json:"fundingSourceID"`
	Copy                int     `json:"copy"`
	NumberOfWheelchairs int     `json:"numberOfWheelchairs"`
	NumberOfPassengers  int     `json:"numberOfPassengers"`
	ClassOfServiceID    int     `json:"classOfServiceID"`
	AffiliateID         int     `json:"affiliateID"`
	PickupLatitude      float64 `json:"pickupLatitude"`
	PickupLongitude     float64 `json:"pickupLongitude"`
	CopayFundingSource  int     `json:"copyFundingSourceID"`
	RiderID             string  `json:"riderID"`
	AuthorizedStaff     string  `json:"authorizedStaff"`
	StartFareZone       string  `json:"startFareZone"`
	EndFareZone         string  `json:"endFareZone"`
	TSPID               string  `json:"tspid"`
	HTTPResponseCode    int     `json:"httpResponseCode"`
}

type GeoLocation struct {
	FormattedAddress string
	Lat              float64
	Lng              float64
	City             string
	State            string
	Zip              string
	County           string
}

type BookResult struct {
	ResponseCode int    `json:"responseCode"`
	RefID        int    `json:"iRefID"`
	ReturnLegIDs []int  `json:"returnLegsList"`
	Message      string `json:"message,omitempty"`
}

type Eligibility struct {
	Verified  bool   `json:"VerificationSuccess"`
	FirstName string `json:"FirstName,omitempty"`
	LastName  string `json:"LastName,omitempty"`
}
