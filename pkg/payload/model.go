package payload

// Wire model for BookParatransitTrip. Field names follow the booking
// backend exactly; every leg is one Trips entry whose Details array
// holds the pickup (index 0) and dropoff (index 1).

type GeneralInfo struct {
	CompleteUserName   string `json:"CompleteUserName"`
	CreatedBy          string `json:"CreatedBy"`
	CreatedByAppID     int    `json:"CreatedByAppID"`
	CreatedUserID      int    `json:"CreatedUserId"`
	RequestAffiliateID int    `json:"RequestAffiliateID"`
	ReturnDetailID     string `json:"ReturnDetailID"`
	FamilyID           int    `json:"FamilyID"`
}

type RiderInfo struct {
	ID            int    `json:"ID"`
	PhoneNo       string `json:"PhoneNo"`
	PickupPerson  string `json:"PickupPerson"`
	DateOfBirth   string `json:"DateOfBirth"`
	RiderID       string `json:"RiderID"`
	RiderPassword string `json:"RiderPassword"`
	MedicalID     string `json:"MedicalId"`
	ClientAddress string `json:"ClientAddress"`
	ClientCity    string `json:"ClientCity"`
	ClientState   string `json:"ClientState"`
	ClientZip     string `json:"ClientZip"`
	HomePhone     string `json:"HomePhone"`
	OfficePhone   string `json:"OfficePhone"`
}

type AddressDetails struct {
	Address   string  `json:"Address"`
	City      string  `json:"City"`
	State     string  `json:"State"`
	Zip       string  `json:"Zip"`
	Latitude  float64 `json:"Latitude"`
	Longitude float64 `json:"Longitude"`
	Phone     string  `json:"Phone"`
	Remarks   string  `json:"Remarks"`
}

type TripInfo struct {
	AffiliateID  int    `json:"AffiliateID"`
	ExtraInfo    string `json:"ExtraInfo"`
	CallBackInfo string `json:"CallBackInfo"`
}

type PaymentInfo struct {
	FundingSourceID      int `json:"FundingSourceID"`
	PaymentTypeID        int `json:"PaymentTypeID"`
	CopayFundingSourceID int `json:"iCopayFundingSourceID"`
	ActualPaymentTypeID  int `json:"iActualPaymentTypeID"`
}

type DateInfo struct {
	PickupDate  string `json:"PickupDate"`
	IsScheduled bool   `json:"IsScheduled"`
	IsWillCall  bool   `json:"IsWillCall"`
	WillCallDay string `json:"WillCallDay"`
}

type PassengerInfo struct {
	TotalPassengers  int `json:"TotalPassengers"`
	TotalWheelChairs int `json:"TotalWheelChairs"`
}

type EstimatedInfo struct {
	EstimatedDistance float64 `json:"EstimatedDistance"`
	EstimatedTime     float64 `json:"EstimatedTime"`
	EstimatedCost     float64 `json:"EstimatedCost"`
	CoPay             float64 `json:"CoPay"`
}

type Detail struct {
	Name           string         `json:"Name"`
	AddressDetails AddressDetails `json:"addressDetails"`
	TripInfo       TripInfo       `json:"tripInfo"`
	PaymentInfo    PaymentInfo    `json:"paymentInfo"`
	DateInfo       DateInfo       `json:"dateInfo"`
	PassengerInfo  PassengerInfo  `json:"passengerInfo"`
	EstimatedInfo  EstimatedInfo  `json:"estimatedInfo"`
}

type Trip struct {
	Details []Detail `json:"Details"`
}

type AddressInfo struct {
	Trips []Trip `json:"Trips"`
}

type InsuranceInfo struct {
	AgencyID      int    `json:"AgencyID"`
	InsuranceID   int    `json:"InsuranceID"`
	CaseWorkerID  int    `json:"CaseWorkerID"`
	AuthID        string `json:"AuthID"`
	ServiceCodeID string `json:"ServiceCodeID"`
	MedicalID     string `json:"MedicalID"`
}

type RouteSettingInfo struct {
	TimeWindow          int `json:"TimeWindow"`
	EndTimeWindow       int `json:"EndTimeWindow"`
	MinRideTime         int `json:"MinRideTime"`
	MaxRideTime         int `json:"MaxRideTime"`
	ServiceTimeAmb      int `json:"ServiceTimeAmb"`
	ServiceTimeWC       int `json:"ServiceTimeWC"`
	ApptTimeWindow      int `json:"ApptTimeWindow"`
	AdditionalSameLocAm int `json:"AdditionalSameLocAm"`
	AdditionalSameLocWC int `json:"AdditionalSameLocWC"`
}

type SystemConfigInfo struct {
	DefaultCustomerShowPhoneNo bool `json:"DefaultCustomerShowPhoneNo"`
	IsSkipPaymentProcessOnSD   bool `json:"IsSkipPaymentProcessOnSD"`
	Ta01                       int  `json:"Ta01"`
	UseHTMLFormatEmail         bool `json:"UseHTMLFormatEmail"`
	WebShuttleSendEmail        bool `json:"Web_Shuttle_SendEmailFromSASCode"`
	SRDuplicateCallDelay       int  `json:"SRDuplicateCallDelay"`
	ServiceHoursViolation      bool `json:"ServiceHoursViolation"`
}

type TripPayload struct {
	SchemaVersion    string           `json:"schemaVersion,omitempty"`
	GeneralInfo      GeneralInfo      `json:"generalInfo"`
	RiderInfo        RiderInfo        `json:"riderInfo"`
	AddressInfo      AddressInfo      `json:"addressInfo"`
	InsuranceInfo    InsuranceInfo    `json:"insuranceInfo"`
	RouteSettingInfo RouteSettingInfo `json:"routeSettingInfo"`
	SystemConfigInfo SystemConfigInfo `json:"systemConfigInfo"`
}

// Service code ids accepted by the booking backend.
const (
	ServiceAmbulatory = "AMBULATORY"
	ServiceWheelchair = "WHEELCHAIR"
	ServiceStretcher  = "STRETCHER"
	ServiceBariatric  = "BARIATRIC"
)

// Template returns a payload pre-filled with the backend's defaults.
// Leg assembly overwrites the sections it owns.
func Template() *TripPayload {
	return &TripPayload{
		SchemaVersion: "1.0",
		GeneralInfo: GeneralInfo{
			CompleteUserName: "system",
			CreatedBy:        "system",
		},
		AddressInfo: AddressInfo{
			Trips: []Trip{{Details: []Detail{{}, {}}}},
		},
		InsuranceInfo: InsuranceInfo{
			ServiceCodeID: ServiceAmbulatory,
		},
		RouteSettingInfo: RouteSettingInfo{
			TimeWindow:     30,
			EndTimeWindow:  30,
			MinRideTime:    15,
			MaxRideTime:    120,
			ServiceTimeAmb: 5,
			ServiceTimeWC:  10,
			ApptTimeWindow: 15,
		},
		SystemConfigInfo: SystemConfigInfo{
			UseHTMLFormatEmail:   true,
			SRDuplicateCallDelay: 300,
		},
	}
}
