package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationIssue mirrors the booking backend's error detail shape.
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type ValidationError struct {
	Details []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, strings.Join(d.Loc, ".")+": "+d.Msg)
	}
	return "ValidationError: " + strings.Join(parts, "; ")
}

// JSON renders the error in the backend's envelope.
func (e *ValidationError) JSON() string {
	b, _ := json.Marshal(map[string]any{"error": "ValidationError", "details": e.Details})
	return string(b)
}

var (
	e164Re = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	zipRe  = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

var uspsStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true,
}

var serviceCodes = map[string]bool{
	ServiceAmbulatory: true,
	ServiceWheelchair: true,
	ServiceStretcher:  true,
	ServiceBariatric:  true,
}

// ValidE164 reports whether the phone number is a plausible E.164
// number with at least ten national digits.
func ValidE164(number string) bool {
	return e164Re.MatchString(number) && len(number) >= 11
}

// ValidZip checks the 5 or 5+4 US ZIP format; for Maryland the prefix
// must sit in the state's 206-219 range.
func ValidZip(zip, state string) bool {
	if !zipRe.MatchString(zip) {
		return false
	}
	if state == "MD" {
		prefix, _ := strconv.Atoi(zip[:3])
		return prefix >= 206 && prefix <= 219
	}
	return true
}

// Validate runs the structural checks the booking backend enforces.
// A nil return means the payload is submittable.
func Validate(p *TripPayload) *ValidationError {
	var issues []ValidationIssue
	add := func(typ, msg string, loc ...string) {
		issues = append(issues, ValidationIssue{Loc: loc, Msg: msg, Type: typ})
	}

	if p.GeneralInfo.RequestAffiliateID < 0 {
		add("value_error", "RequestAffiliateID must be >= 0", "generalInfo", "RequestAffiliateID")
	}

	if p.RiderInfo.PhoneNo != "" && !ValidE164(p.RiderInfo.PhoneNo) {
		add("value_error.phone", "Must be E.164 format with 7-15 digits total (+13015551234)", "riderInfo", "PhoneNo")
	}
	if p.RiderInfo.ClientState != "" && !uspsStates[p.RiderInfo.ClientState] {
		add("value_error.state", "Must be a USPS 2-letter state code", "riderInfo", "ClientState")
	}
	if p.RiderInfo.ClientZip != "" && !ValidZip(p.RiderInfo.ClientZip, p.RiderInfo.ClientState) {
		add("value_error.zip", "Must be US ZIP format (12345 or 12345-6789)", "riderInfo", "ClientZip")
	}

	if p.InsuranceInfo.InsuranceID != 0 && p.InsuranceInfo.AuthID == "" {
		add("value_error", "AuthID is required when InsuranceID is not 0", "insuranceInfo", "AuthID")
	}
	if !serviceCodes[p.InsuranceInfo.ServiceCodeID] {
		add("value_error.enum", "Unknown service code", "insuranceInfo", "ServiceCodeID")
	}

	rs := p.RouteSettingInfo
	for _, f := range []struct {
		name  string
		value int
	}{
		{"TimeWindow", rs.TimeWindow}, {"EndTimeWindow", rs.EndTimeWindow},
		{"MinRideTime", rs.MinRideTime}, {"MaxRideTime", rs.MaxRideTime},
		{"ServiceTimeAmb", rs.ServiceTimeAmb}, {"ServiceTimeWC", rs.ServiceTimeWC},
		{"ApptTimeWindow", rs.ApptTimeWindow},
	} {
		if f.value < 0 || f.value > 1440 {
			add("value_error", fmt.Sprintf("%s must be between 0 and 1440 minutes", f.name), "routeSettingInfo", f.name)
		}
	}
	if rs.MaxRideTime < rs.MinRideTime {
		add("value_error", "MaxRideTime must be >= MinRideTime", "routeSettingInfo", "MaxRideTime")
	}
	if p.InsuranceInfo.ServiceCodeID == ServiceWheelchair && rs.ServiceTimeWC <= 0 {
		add("value_error", "ServiceTimeWC must be > 0 for wheelchair service", "routeSettingInfo", "ServiceTimeWC")
	}

	for ti, trip := range p.AddressInfo.Trips {
		if len(trip.Details) != 2 {
			add("value_error", "each trip needs a pickup and a dropoff detail", "addressInfo", "Trips", strconv.Itoa(ti))
			continue
		}
		for di, d := range trip.Details {
			loc := []string{"addressInfo", "Trips", strconv.Itoa(ti), "Details", strconv.Itoa(di)}
			lat, lng := d.AddressDetails.Latitude, d.AddressDetails.Longitude
			if lat < -90 || lat > 90 {
				add("value_error", "Latitude must be in [-90, 90]", append(loc, "addressDetails", "Latitude")...)
			}
			if lng < -180 || lng > 180 {
				add("value_error", "Longitude must be in [-180, 180]", append(loc, "addressDetails", "Longitude")...)
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Details: issues}
	}
	return nil
}
