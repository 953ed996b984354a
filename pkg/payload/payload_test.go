package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/timeutil"
)

func sampleParams() LegParams {
	return LegParams{
		PickupStreetAddress:  "8201 Snouffer School Road",
		DropoffStreetAddress: "20044 Gaussion Road",
		PickupCity:           "Gaithersburg",
		DropoffCity:          "Gaithersburg",
		PickupState:          "MD",
		DropoffState:         "MD",
		PickupLat:            "39.17",
		PickupLng:            "-77.19",
		DropoffLat:           "39.10",
		DropoffLng:           "-77.10",
		PhoneNumber:          "+13854156545",
		ClientID:             "960747",
		RiderID:              "12345",
		RiderName:            "Jane Doe",
		FundingSourceID:      "7",
		PaymentTypeID:        "1",
		CopayFundingSource:   "-1",
		CopayPaymentTypeID:   "-1",
		BookingTime:          "2026-08-29 10:00",
		TotalPassengers:      1,
	}
}

func TestBuildLegExistingRiderShape(t *testing.T) {
	now := time.Date(2026, 8, 29, 9, 55, 0, 0, time.UTC)
	p := BuildLeg(sampleParams(), 21, 4, Estimates{DistanceMiles: 8, DurationMinutes: 15, TotalCost: 18.50}, now)

	assert.Equal(t, 960747, p.RiderInfo.ID)
	assert.Equal(t, "0", p.RiderInfo.MedicalID)
	assert.Equal(t, "0", p.RiderInfo.RiderID)
	assert.Equal(t, 21, p.GeneralInfo.RequestAffiliateID)
	assert.Equal(t, 4, p.GeneralInfo.FamilyID)

	require.Len(t, p.AddressInfo.Trips, 1)
	require.Len(t, p.AddressInfo.Trips[0].Details, 2)
	pickup := p.AddressInfo.Trips[0].Details[0]
	dropoff := p.AddressInfo.Trips[0].Details[1]
	assert.Equal(t, 39.17, pickup.AddressDetails.Latitude)
	assert.Equal(t, "20044 Gaussion Road", dropoff.AddressDetails.Address)
	assert.Equal(t, 18.50, pickup.EstimatedInfo.EstimatedCost)
	assert.Equal(t, 18.50, dropoff.EstimatedInfo.EstimatedCost)
	assert.Equal(t, "12345", p.InsuranceInfo.MedicalID)
}

func TestBuildLegNewRiderShape(t *testing.T) {
	params := sampleParams()
	params.ClientID = "-1"
	p := BuildLeg(params, 21, 4, Estimates{}, time.Now())

	assert.Equal(t, -1, p.RiderInfo.ID)
	assert.Equal(t, "", p.RiderInfo.MedicalID)
	assert.Equal(t, "0", p.RiderInfo.RiderID)
}

func TestBuildLegZeroClientIDBecomesNew(t *testing.T) {
	params := sampleParams()
	params.ClientID = "0"
	p := BuildLeg(params, 21, 4, Estimates{}, time.Now())
	assert.Equal(t, -1, p.RiderInfo.ID)
}

func TestIsScheduled(t *testing.T) {
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, timeutil.Eastern())

	assert.False(t, IsScheduled("2026-08-29 09:10", false, now), "under 20 minutes out")
	assert.True(t, IsScheduled("2026-08-29 09:30", false, now), "20+ minutes out")
	assert.True(t, IsScheduled("", true, now), "will-call is always scheduled")
	assert.False(t, IsScheduled("not a time", false, now), "unparseable means now")
}

func TestCombineConcatenatesTripsOnly(t *testing.T) {
	now := time.Now()
	main := BuildLeg(sampleParams(), 21, 4, Estimates{TotalCost: 18.50}, now)

	retParams := sampleParams()
	retParams.PickupStreetAddress, retParams.DropoffStreetAddress = retParams.DropoffStreetAddress, retParams.PickupStreetAddress
	ret := BuildLeg(retParams, 21, 4, Estimates{TotalCost: 18.50}, now)

	combined := Combine(main, ret)
	require.Len(t, combined.AddressInfo.Trips, 2)
	assert.Equal(t, main.RiderInfo, combined.RiderInfo)
	assert.Equal(t, main.GeneralInfo, combined.GeneralInfo)
	// The source payloads stay intact.
	assert.Len(t, main.AddressInfo.Trips, 1)
	assert.Len(t, ret.AddressInfo.Trips, 1)
}

func TestSafeConversions(t *testing.T) {
	assert.Equal(t, 7, SafeInt(" 7 "))
	assert.Equal(t, 0, SafeInt("seven"))
	assert.Equal(t, 39.17, SafeFloat("39.17"))
	assert.Equal(t, 0.0, SafeFloat(""))
}

func TestValidateAcceptsBuiltLeg(t *testing.T) {
	p := BuildLeg(sampleParams(), 21, 4, Estimates{}, time.Now())
	p.RiderInfo.ClientState = "MD"
	p.RiderInfo.ClientZip = "20879"
	assert.Nil(t, Validate(p))
}

func TestValidateRejectsBadFields(t *testing.T) {
	p := BuildLeg(sampleParams(), 21, 4, Estimates{}, time.Now())
	p.RiderInfo.PhoneNo = "5551234"
	p.RiderInfo.ClientState = "XX"
	p.InsuranceInfo.InsuranceID = 5
	p.RouteSettingInfo.MaxRideTime = 10

	err := Validate(p)
	require.NotNil(t, err)
	locs := make(map[string]bool)
	for _, d := range err.Details {
		locs[d.Loc[len(d.Loc)-1]] = true
	}
	assert.True(t, locs["PhoneNo"])
	assert.True(t, locs["ClientState"])
	assert.True(t, locs["AuthID"])
	assert.True(t, locs["MaxRideTime"])
	assert.Contains(t, err.JSON(), `"error":"ValidationError"`)
}

func TestValidateWheelchairNeedsServiceTime(t *testing.T) {
	params := sampleParams()
	params.TotalWheelchairs = 1
	p := BuildLeg(params, 21, 4, Estimates{}, time.Now())
	assert.Equal(t, ServiceWheelchair, p.InsuranceInfo.ServiceCodeID)

	p.RouteSettingInfo.ServiceTimeWC = 0
	err := Validate(p)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "ServiceTimeWC")
}

func TestValidateMarylandZipRange(t *testing.T) {
	assert.True(t, ValidZip("20879", "MD"))
	assert.False(t, ValidZip("90210", "MD"))
	assert.True(t, ValidZip("90210", "CA"))
	assert.False(t, ValidZip("2087", "MD"))
}
