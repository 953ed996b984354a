package payload

import (
	"strconv"
	"strings"
	"time"

	"github.com/alinavoice/alina/pkg/timeutil"
)

// ScheduleLeadTime is how far in the future a pickup must be before
// the trip is marked as scheduled rather than at-this-moment.
const ScheduleLeadTime = 20 * time.Minute

// LegParams carries everything the agent collected for one leg. String
// fields arrive straight from the model and are converted defensively:
// unparseable numbers become 0, unknown ids become -1.
type LegParams struct {
	PickupStreetAddress  string
	DropoffStreetAddress string
	PickupCity           string
	DropoffCity          string
	PickupState          string
	DropoffState         string
	PickupZip            string
	DropoffZip           string
	PickupLat            string
	PickupLng            string
	DropoffLat           string
	DropoffLng           string
	PickupRemarks        string
	PickupPhone          string
	DropoffRemarks       string
	DropoffPhone         string

	ExtraDetails string
	PhoneNumber  string
	ClientID     string
	RiderID      string
	RiderName    string
	HomeAddress  string
	HomeCity     string
	HomeState    string
	HomePhone    string
	OfficePhone  string

	FundingSourceID    string
	PaymentTypeID      string
	CopayFundingSource string
	CopayPaymentTypeID string

	BookingTime      string
	IsWillCall       bool
	WillCallDay      string
	TotalPassengers  int
	TotalWheelchairs int
}

// Estimates holds the directions + fare results for the leg.
type Estimates struct {
	DistanceMiles   float64
	DurationMinutes float64
	TotalCost       float64
	Copay           float64
}

// SafeInt converts a model-supplied numeric string, returning 0 on
// anything unparseable.
func SafeInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// SafeFloat converts a model-supplied float string, returning 0 on
// anything unparseable.
func SafeFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// IsScheduled reports whether a booking time should mark the trip
// scheduled: will-call trips always are, otherwise the pickup must be
// at least ScheduleLeadTime in the future. Unparseable times mean "now".
func IsScheduled(bookingTime string, isWillCall bool, now time.Time) bool {
	if isWillCall {
		return true
	}
	t, err := timeutil.ParseMinute(bookingTime)
	if err != nil {
		return false
	}
	return t.Sub(now) >= ScheduleLeadTime
}

// BuildLeg maps collected parameters onto a fresh payload. The rider
// section distinguishes existing riders (known client id) from new
// ones, which book with ID -1 and an empty medical id.
func BuildLeg(p LegParams, affiliateID, familyID int, est Estimates, now time.Time) *TripPayload {
	data := Template()

	clientID := SafeInt(p.ClientID)
	if clientID == 0 {
		clientID = -1
	}
	if clientID > 0 {
		data.RiderInfo.ID = clientID
		data.RiderInfo.MedicalID = "0"
		data.RiderInfo.RiderID = "0"
	} else {
		data.RiderInfo.ID = -1
		data.RiderInfo.MedicalID = ""
		data.RiderInfo.RiderID = "0"
	}
	data.RiderInfo.PhoneNo = p.PhoneNumber
	data.RiderInfo.PickupPerson = p.RiderName
	data.RiderInfo.ClientAddress = p.HomeAddress
	data.RiderInfo.ClientCity = p.HomeCity
	data.RiderInfo.ClientState = p.HomeState
	data.RiderInfo.HomePhone = p.HomePhone
	data.RiderInfo.OfficePhone = p.OfficePhone

	data.GeneralInfo.RequestAffiliateID = affiliateID
	data.GeneralInfo.FamilyID = familyID

	scheduled := IsScheduled(p.BookingTime, p.IsWillCall, now)
	fundingID := SafeInt(p.FundingSourceID)
	paymentID := SafeInt(p.PaymentTypeID)
	copayFSID := SafeInt(p.CopayFundingSource)
	copayPTID := SafeInt(p.CopayPaymentTypeID)

	pickup := &data.AddressInfo.Trips[0].Details[0]
	pickup.Name = p.RiderName
	pickup.AddressDetails = AddressDetails{
		Address:   p.PickupStreetAddress,
		City:      p.PickupCity,
		State:     p.PickupState,
		Zip:       p.PickupZip,
		Latitude:  SafeFloat(p.PickupLat),
		Longitude: SafeFloat(p.PickupLng),
		Phone:     p.PickupPhone,
		Remarks:   p.PickupRemarks,
	}
	pickup.TripInfo = TripInfo{AffiliateID: affiliateID, ExtraInfo: p.ExtraDetails, CallBackInfo: p.PhoneNumber}
	pickup.PaymentInfo = PaymentInfo{
		FundingSourceID:      fundingID,
		PaymentTypeID:        paymentID,
		CopayFundingSourceID: copayFSID,
		ActualPaymentTypeID:  copayPTID,
	}
	pickup.DateInfo = DateInfo{
		PickupDate:  p.BookingTime,
		IsScheduled: scheduled,
		IsWillCall:  p.IsWillCall,
		WillCallDay: p.WillCallDay,
	}
	pickup.PassengerInfo = PassengerInfo{TotalPassengers: p.TotalPassengers, TotalWheelChairs: p.TotalWheelchairs}
	pickup.EstimatedInfo = EstimatedInfo{
		EstimatedDistance: est.DistanceMiles,
		EstimatedTime:     est.DurationMinutes,
		EstimatedCost:     est.TotalCost,
		CoPay:             est.Copay,
	}

	dropoff := &data.AddressInfo.Trips[0].Details[1]
	*dropoff = *pickup
	dropoff.AddressDetails = AddressDetails{
		Address:   p.DropoffStreetAddress,
		City:      p.DropoffCity,
		State:     p.DropoffState,
		Zip:       p.DropoffZip,
		Latitude:  SafeFloat(p.DropoffLat),
		Longitude: SafeFloat(p.DropoffLng),
		Phone:     p.DropoffPhone,
		Remarks:   p.DropoffRemarks,
	}
	dropoff.TripInfo.ExtraInfo = ""

	riderID := SafeInt(p.RiderID)
	data.InsuranceInfo.MedicalID = strconv.Itoa(riderID)
	if p.TotalWheelchairs > 0 {
		data.InsuranceInfo.ServiceCodeID = ServiceWheelchair
	}
	return data
}

// Combine merges the return leg's trips into a copy of the main
// payload; the shared sections stay the main leg's.
func Combine(main, ret *TripPayload) *TripPayload {
	combined := *main
	combined.AddressInfo.Trips = append(append([]Trip{}, main.AddressInfo.Trips...), ret.AddressInfo.Trips...)
	return &combined
}
