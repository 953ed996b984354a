package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/payload"
	"github.com/alinavoice/alina/pkg/phone"
	"github.com/alinavoice/alina/pkg/timeutil"
)

// Tool names as the model sees them. Close_Call keeps its historical
// capitalisation; the prompts reference it verbatim.
const (
	ToolGetClientName        = "get_client_name"
	ToolGetValidAddresses    = "get_valid_addresses"
	ToolCheckBounds          = "check_bounds"
	ToolGetIDs               = "get_IDs"
	ToolGetCopayIDs          = "get_copay_ids"
	ToolVerifyRider          = "verify_rider"
	ToolGetETA               = "get_ETA"
	ToolGetHistoricRides     = "get_historic_rides"
	ToolGetTripStats         = "get_trip_stats"
	ToolGetFrequentAddresses = "get_frequent_addresses"
	ToolGetDistanceFare      = "get_distance_duration_fare"
	ToolCollectMainTrip      = "collect_main_trip_payload"
	ToolCollectReturnTrip    = "collect_return_trip_payload"
	ToolBookTrips            = "book_trips"
	ToolCloseCall            = "Close_Call"
	ToolSearchWeb            = "search_web"
	ToolGetAddress           = "get_address"
	ToolSelectRider          = "select_rider_profile"
	ToolSetKeypadMode        = "set_keypad_mode"
	ToolCurrentDateTime      = "get_current_date_and_time"
)

// toolTimeout bounds a single tool execution end to end.
const toolTimeout = 60 * time.Second

// maxRiderMatches caps how many profiles get_client_name reads back.
const maxRiderMatches = 5

func strSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numSchema(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func intSchema(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolSchema(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func objSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// legProperties is the shared argument schema of the two collect tools.
func legProperties() map[string]any {
	return map[string]any{
		"pickup_street_address":   strSchema("Validated pickup street address"),
		"dropoff_street_address":  strSchema("Validated dropoff street address"),
		"pickup_city":             strSchema("Pickup city"),
		"dropoff_city":            strSchema("Dropoff city"),
		"pickup_state":            strSchema("Pickup state, two letter code"),
		"dropoff_state":           strSchema("Dropoff state, two letter code"),
		"pickup_zip":              strSchema("Pickup ZIP code"),
		"dropoff_zip":             strSchema("Dropoff ZIP code"),
		"pickup_lat":              strSchema("Pickup latitude from get_valid_addresses"),
		"pickup_lng":              strSchema("Pickup longitude from get_valid_addresses"),
		"dropoff_lat":             strSchema("Dropoff latitude from get_valid_addresses"),
		"dropoff_lng":             strSchema("Dropoff longitude from get_valid_addresses"),
		"pickup_remarks":          strSchema("Driver notes for the pickup location"),
		"pickup_phone":            strSchema("Contact phone at pickup"),
		"dropoff_remarks":         strSchema("Driver notes for the dropoff location"),
		"dropoff_phone":           strSchema("Contact phone at dropoff"),
		"extra_details":           strSchema("Anything else the driver should know"),
		"client_id":               strSchema("Rider's client id, -1 for a new rider"),
		"rider_id":                strSchema("Rider's medical/external id, -1 when unknown"),
		"rider_name":              strSchema("Rider's full name"),
		"funding_source_id":       strSchema("Funding source id from get_IDs"),
		"payment_type_id":         strSchema("Payment type id from get_IDs"),
		"copay_funding_source_id": strSchema("Copay funding source id from get_copay_ids, -1 when none"),
		"copay_payment_type_id":   strSchema("Copay payment type id from get_copay_ids, -1 when none"),
		"booking_time":            strSchema("Pickup time as YYYY-MM-DD HH:MM Eastern"),
		"is_will_call":            boolSchema("True when the return pickup is on rider's call"),
		"will_call_day":           strSchema("Day of the will-call pickup when is_will_call is true"),
		"total_passengers":        intSchema("Total passengers including the rider"),
		"total_wheelchairs":       intSchema("Number of wheelchairs, 0 for ambulatory"),
	}
}

// Tools declares the callable surface the conversation model is
// allowed to use.
func (t *Toolbox) Tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolGetClientName,
			Description: "Look up rider profiles registered under a phone number. Returns each rider's name, client id and rider id, or new_rider when nothing matches.",
			Schema: objSchema([]string{"caller_number"}, map[string]any{
				"caller_number": strSchema("The caller's phone number"),
				"family_id":     intSchema("Affiliate family id, omit to use the current call's"),
			}),
		},
		{
			Name:        ToolGetValidAddresses,
			Description: "Validate a spoken address and resolve it to coordinates. Always call this before quoting fares or collecting a trip. Each candidate is annotated with isWithinServiceArea.",
			Schema: objSchema([]string{"address"}, map[string]any{
				"address": strSchema("The address exactly as the caller said it"),
			}),
		},
		{
			Name:        ToolCheckBounds,
			Description: "Check whether a coordinate lies inside the agency's service area.",
			Schema: objSchema([]string{"latitude", "longitude"}, map[string]any{
				"latitude":  numSchema("Latitude, -90 to 90"),
				"longitude": numSchema("Longitude, -180 to 180"),
			}),
		},
		{
			Name:        ToolGetIDs,
			Description: "Resolve the funding source the caller named (tolerates mis-transcriptions) to its funding source id, program id and payment type id.",
			Schema: objSchema([]string{"account_"}, map[string]any{
				"account_": strSchema("The funding source or account name as the caller said it"),
			}),
		},
		{
			Name:        ToolGetCopayIDs,
			Description: "Resolve the copay funding source the caller named to its copay funding source id and payment type id.",
			Schema: objSchema([]string{"copay_account_name"}, map[string]any{
				"copay_account_name": strSchema("The copay account name as the caller said it"),
			}),
		},
		{
			Name:        ToolVerifyRider,
			Description: "Verify rider eligibility with the funding program. Call when get_IDs reported that verification is required.",
			Schema: objSchema([]string{"rider_id", "program_id"}, map[string]any{
				"rider_id":   strSchema("The rider's medical/external id"),
				"program_id": intSchema("Program id from get_IDs, -1 when no verification is needed"),
			}),
		},
		{
			Name:        ToolGetETA,
			Description: "Fetch the rider's active trips with statuses and ETAs.",
			Schema: objSchema([]string{"client_id"}, map[string]any{
				"client_id": intSchema("The rider's client id"),
			}),
		},
		{
			Name:        ToolGetHistoricRides,
			Description: "Fetch the rider's past completed rides.",
			Schema: objSchema([]string{"client_id"}, map[string]any{
				"client_id": intSchema("The rider's client id"),
			}),
		},
		{
			Name:        ToolGetTripStats,
			Description: "Fetch the rider's trip statistics and summaries: totals, completions, cancellations and cost averages. Use for analytical questions about trip patterns, not for current ride status.",
			Schema: objSchema(nil, map[string]any{
				"client_id": intSchema("The rider's client id, omit to use the identified rider's"),
			}),
		},
		{
			Name:        ToolGetFrequentAddresses,
			Description: "List the unique pickup and dropoff addresses in the rider's ride history.",
			Schema: objSchema([]string{"client_id"}, map[string]any{
				"client_id": intSchema("The rider's client id"),
			}),
		},
		{
			Name:        ToolGetDistanceFare,
			Description: "Estimate distance, travel time and fare between two validated coordinates. Addresses must be validated first.",
			Schema: objSchema([]string{"pickup_lat", "pickup_lng", "dropoff_lat", "dropoff_lng"}, map[string]any{
				"pickup_lat":        numSchema("Pickup latitude"),
				"pickup_lng":        numSchema("Pickup longitude"),
				"dropoff_lat":       numSchema("Dropoff latitude"),
				"dropoff_lng":       numSchema("Dropoff longitude"),
				"wheelchairs":       intSchema("Number of wheelchairs"),
				"passengers":        intSchema("Total passengers"),
				"rider_id":          strSchema("Rider id for funded fares, -1 when unknown"),
				"funding_source_id": intSchema("Funding source id from get_IDs, -1 when self-pay"),
			}),
		},
		{
			Name:        ToolCollectMainTrip,
			Description: "Assemble the main (outbound) leg once every detail is confirmed. Repeated calls overwrite the previous main leg.",
			Schema:      objSchema([]string{"pickup_street_address", "dropoff_street_address", "booking_time"}, legProperties()),
		},
		{
			Name:        ToolCollectReturnTrip,
			Description: "Assemble the return leg once every detail is confirmed. Repeated calls overwrite the previous return leg.",
			Schema:      objSchema([]string{"pickup_street_address", "dropoff_street_address"}, legProperties()),
		},
		{
			Name:        ToolBookTrips,
			Description: "Submit the collected leg(s) to the reservation backend. Only call after the caller confirmed every detail.",
			Schema:      objSchema(nil, map[string]any{}),
		},
		{
			Name:        ToolCloseCall,
			Description: "Say goodbye and end the call. Only call when the caller is done.",
			Schema:      objSchema(nil, map[string]any{}),
		},
		{
			Name:        ToolSearchWeb,
			Description: "Research something on the web and get a short spoken-style answer.",
			Schema: objSchema([]string{"prompt"}, map[string]any{
				"prompt": strSchema("What to look up"),
			}),
		},
		{
			Name:        ToolGetAddress,
			Description: "Find the full address of a named place near the caller.",
			Schema: objSchema([]string{"prompt"}, map[string]any{
				"prompt":  strSchema("The place the caller described"),
				"country": strSchema("Country to search in"),
				"city":    strSchema("City to search in"),
				"state":   strSchema("State to search in"),
			}),
		},
		{
			Name:        ToolSelectRider,
			Description: "Pin the rider profile the caller confirmed when a phone number has several profiles.",
			Schema: objSchema([]string{"client_id"}, map[string]any{
				"client_id":  strSchema("The client id of the confirmed profile"),
				"rider_name": strSchema("The confirmed rider name"),
			}),
		},
		{
			Name:        ToolSetKeypadMode,
			Description: "Switch how keypad presses are handled. Use transfer_shortcut when telling the caller to press 0 for dispatch or 1 for their driver; use phone_collect when asking them to key in a phone number.",
			Schema: objSchema([]string{"mode"}, map[string]any{
				"mode": strSchema("Either phone_collect or transfer_shortcut"),
			}),
		},
		{
			Name:        ToolCurrentDateTime,
			Description: "Current date and time in the agency's timezone.",
			Schema:      objSchema(nil, map[string]any{}),
		},
	}
}

// HandleTool dispatches one tool call. Errors never reach the agent
// loop: every failure comes back as a narrative the model can act on.
func (t *Toolbox) HandleTool(name string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	start := time.Now()
	var out string
	switch name {
	case ToolGetClientName:
		out = t.getClientName(ctx, args)
	case ToolGetValidAddresses:
		out = t.getValidAddresses(ctx, args)
	case ToolCheckBounds:
		out = t.checkBounds(ctx, args)
	case ToolGetIDs:
		out = t.getIDs(ctx, argString(args, "account_"), false)
	case ToolGetCopayIDs:
		out = t.getIDs(ctx, argString(args, "copay_account_name"), true)
	case ToolVerifyRider:
		out = t.verifyRider(ctx, args)
	case ToolGetETA:
		out = t.getETA(ctx, args)
	case ToolGetHistoricRides:
		out = t.getHistoricRides(ctx, args)
	case ToolGetTripStats:
		out = t.getTripStats(ctx, args)
	case ToolGetFrequentAddresses:
		out = t.getFrequentAddresses(ctx, args)
	case ToolGetDistanceFare:
		out = t.getDistanceFare(ctx, args)
	case ToolCollectMainTrip:
		out = t.collectLeg(ctx, args, false)
	case ToolCollectReturnTrip:
		out = t.collectLeg(ctx, args, true)
	case ToolBookTrips:
		out = t.bookTrips(ctx)
	case ToolCloseCall:
		out = t.closeCall(ctx)
	case ToolSearchWeb:
		out = t.searchWeb(ctx, args)
	case ToolGetAddress:
		out = t.getAddress(ctx, args)
	case ToolSelectRider:
		out = t.selectRider(args)
	case ToolSetKeypadMode:
		out = t.setKeypadMode(argString(args, "mode"))
	case ToolCurrentDateTime:
		out = "The current date and time is " + timeutil.FormatMinute(t.now()) + " Eastern."
	default:
		out = "Unknown function. Use only the functions you were given."
	}
	t.logger.Info("tool_executed", "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (t *Toolbox) getClientName(ctx context.Context, args map[string]any) string {
	caller := argString(args, "caller_number")
	if caller == "" {
		caller = t.callerPhone()
	}
	familyID := argInt(args, "family_id", t.familyIDLocked())

	profiles, err := t.backend.SearchClientsByPhone(ctx, caller, t.affiliateIDLocked(), familyID)
	if err != nil {
		t.logger.Warn("client_lookup_failed", "error", err)
		// Degrade to a single new rider so the flow can continue.
		return `{"number_of_riders": 1, "rider_1": "new_rider"}`
	}
	if len(profiles) == 0 {
		return `{"number_of_riders": 0, "rider_1": "new_rider"}`
	}
	if len(profiles) > maxRiderMatches {
		profiles = profiles[:maxRiderMatches]
	}
	result := map[string]any{"number_of_riders": len(profiles)}
	for i, p := range profiles {
		result[fmt.Sprintf("rider_%d", i+1)] = map[string]any{
			"name":      p.Name,
			"client_id": p.ClientID,
			"rider_id":  p.RiderID,
			"address":   p.HomeAddress,
			"city":      p.HomeCity,
			"state":     p.HomeState,
		}
	}
	return jsonString(result)
}

// getValidAddresses is the two-tier validator: web-search verification
// first, geocoder fallback, every candidate annotated with service-area
// membership.
func (t *Toolbox) getValidAddresses(ctx context.Context, args map[string]any) string {
	address := strings.TrimSpace(argString(args, "address"))
	if address == "" {
		return "No address was provided. Ask the caller for the full street address."
	}

	if t.web != nil {
		check, err := t.web.VerifyAddress(ctx, address)
		if err == nil && check.Valid && (check.Latitude != 0 || check.Longitude != 0) {
			within := t.pointInBounds(ctx, check.Latitude, check.Longitude)
			return jsonString(map[string]any{
				"valid":               true,
				"normalized_address":  check.NormalizedAddress,
				"latitude":            check.Latitude,
				"longitude":           check.Longitude,
				"confidence":          check.Confidence,
				"isWithinServiceArea": within,
			})
		}
		if err != nil {
			t.logger.Warn("address_verify_failed", "error", err)
		}
	}

	locations, err := t.backend.Geocode(ctx, address)
	if err != nil {
		t.logger.Warn("geocode_failed", "error", err)
		return "I could not validate that address. Ask the caller to repeat it with the city and state."
	}
	out := make([]map[string]any, 0, len(locations))
	for _, loc := range locations {
		out = append(out, map[string]any{
			"formatted_address":   loc.FormattedAddress,
			"latitude":            loc.Lat,
			"longitude":           loc.Lng,
			"city":                loc.City,
			"state":               loc.State,
			"zip":                 loc.Zip,
			"county":              loc.County,
			"isWithinServiceArea": t.pointInBounds(ctx, loc.Lat, loc.Lng),
		})
	}
	return jsonString(map[string]any{"valid": true, "candidates": out})
}

func (t *Toolbox) checkBounds(ctx context.Context, args map[string]any) string {
	lat := argFloat(args, "latitude", 0)
	lng := argFloat(args, "longitude", 0)
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "True"
	}
	if t.pointInBounds(ctx, lat, lng) {
		return "True"
	}
	return "False"
}

// pointInBounds fails open: an affiliate with no configured rectangle
// must never block service.
func (t *Toolbox) pointInBounds(ctx context.Context, lat, lng float64) bool {
	defer func() {
		_ = recover()
	}()
	bounds, _, _ := t.affiliateDetail(ctx)
	return bounds.Contains(lat, lng)
}

// idsMatch is the strict JSON shape the funding matcher must return.
type idsMatch struct {
	FundingSourceID int    `json:"funding_source_id"`
	ProgramID       int    `json:"program_id"`
	PaymentTypeID   int    `json:"payment_type_id"`
	MatchedName     string `json:"matched_name"`
	Confident       bool   `json:"confident"`
}

// getIDs resolves a spoken funding-source name against the affiliate's
// catalog with a small model, tolerating STT mangling ("Vomata" for
// "WMATA"). copay narrows the catalog to copay-eligible sources.
func (t *Toolbox) getIDs(ctx context.Context, spoken string, copay bool) string {
	spoken = strings.TrimSpace(spoken)
	if spoken == "" {
		return "No account name was provided. Ask the caller which account or program pays for the ride."
	}

	_, sources, copayIDs := t.affiliateDetail(ctx)
	if copay {
		sources = filterCopay(sources, copayIDs)
	}
	if len(sources) == 0 {
		if copay {
			return "This agency has no copay funding sources configured. Treat the trip as not requiring a copay account."
		}
		return "I could not load the funding source catalog. Apologise and offer to transfer the caller to a live agent."
	}

	types, err := t.backend.PaymentTypes(ctx, t.affiliateIDLocked())
	if err != nil {
		t.logger.Warn("payment_types_failed", "error", err)
	}

	match, err := t.matchFundingSource(ctx, spoken, sources, types)
	if err != nil || !match.Confident {
		names := make([]string, 0, len(sources))
		for _, s := range sources {
			names = append(names, s.Name)
		}
		return "I could not confidently match \"" + spoken + "\". The available accounts are: " +
			strings.Join(names, ", ") + ". Ask the caller to confirm which one they meant."
	}

	requiresVerification := match.ProgramID > 0
	requiresCopay := containsInt(copayIDs, match.FundingSourceID)
	result := map[string]any{
		"funding_source_id":           match.FundingSourceID,
		"program_id":                  match.ProgramID,
		"payment_type_id":             match.PaymentTypeID,
		"matched_name":                match.MatchedName,
		"requires_rider_verification": requiresVerification,
		"requires_copay":              requiresCopay,
	}
	if copay {
		return "Matched copay account " + match.MatchedName + ". " + jsonString(result)
	}
	narrative := "Matched account " + match.MatchedName + "."
	if requiresVerification {
		narrative += " This program requires rider verification; confirm the rider id and call verify_rider."
	}
	if requiresCopay {
		narrative += " This account carries a copay; ask for the copay account and call get_copay_ids."
	}
	return narrative + " " + jsonString(result)
}

func (t *Toolbox) matchFundingSource(ctx context.Context, spoken string, sources []backend.FundingSource, types []backend.PaymentType) (idsMatch, error) {
	if t.matcher == nil {
		// No matcher model wired; fall back to case-insensitive contains.
		lower := strings.ToLower(spoken)
		for _, s := range sources {
			if strings.Contains(strings.ToLower(s.Name), lower) || strings.Contains(lower, strings.ToLower(s.Name)) {
				return idsMatch{FundingSourceID: s.ID, ProgramID: s.ProgramID, MatchedName: s.Name, PaymentTypeID: -1, Confident: true}, nil
			}
		}
		return idsMatch{}, fmt.Errorf("no literal match for %q", spoken)
	}

	var catalog strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&catalog, "- %s (funding_source_id=%d, program_id=%d)\n", s.Name, s.ID, s.ProgramID)
	}
	var typeList strings.Builder
	for _, pt := range types {
		fmt.Fprintf(&typeList, "- %s (payment_type_id=%d)\n", pt.Name, pt.ID)
	}
	if typeList.Len() == 0 {
		typeList.WriteString("- none available (use -1)\n")
	}

	prompt := fmt.Sprintf(`A caller on a phone line named their funding account. Speech recognition may have mangled it phonetically (e.g. "Vomata" for "WMATA").

Caller said: %q

Known funding sources:
%s
Known payment types:
%s
Pick the single best funding source and the payment type whose name best corresponds to it. Return ONLY this JSON:
{"funding_source_id": n, "program_id": n, "payment_type_id": n, "matched_name": "...", "confident": true/false}
Set "confident" to false when nothing plausibly matches.`, spoken, catalog.String(), typeList.String())

	resp, err := t.matcher.Generate(ctx, llm.Context{
		Messages: []map[string]any{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return idsMatch{}, err
	}
	if t.ldg != nil {
		t.ldg.AddAgentTokens(t.matcher.Name(), int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	}
	var match idsMatch
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &match); err != nil {
		return idsMatch{}, err
	}
	return match, nil
}

func (t *Toolbox) verifyRider(ctx context.Context, args map[string]any) string {
	riderID := strings.TrimSpace(argString(args, "rider_id"))
	programID := argInt(args, "program_id", -1)
	if programID == -1 {
		return "No verification is required for this program. Proceed with the booking."
	}
	if riderID == "" || riderID == "-1" {
		return "Rider id is missing. Ask the caller for their rider or medical id before verifying."
	}

	elig, err := t.backend.CheckEligibility(ctx, riderID, t.affiliateIDLocked(), programID)
	if err != nil {
		t.logger.Warn("rider_verification_failed", "error", err)
		return "I could not reach the verification service. Apologise and offer to continue with a live agent."
	}
	if !elig.Verified {
		return "Verification failed for rider id " + riderID + ". Ask the caller to repeat the id, or offer a live agent."
	}
	name := strings.TrimSpace(elig.FirstName + " " + elig.LastName)
	if name == "" {
		return "Rider id " + riderID + " is verified for this program."
	}
	return "Rider id " + riderID + " is verified. The registered name is " + name + "."
}

func (t *Toolbox) getETA(ctx context.Context, args map[string]any) string {
	clientID := argInt(args, "client_id", 0)
	if clientID <= 0 {
		return "A valid client id is needed. Identify the rider first with get_client_name."
	}
	rides, err := t.backend.ExistingRides(ctx, clientID, t.affiliateIDLocked())
	if err != nil {
		t.logger.Warn("existing_rides_failed", "error", err)
		return "I could not fetch the rider's active trips right now. Apologise and offer to try again."
	}
	if len(rides) == 0 {
		return "The rider has no active trips."
	}
	return jsonString(map[string]any{
		"trips":               rides,
		"latest_reference_id": latestRefID(rides),
	})
}

func (t *Toolbox) getHistoricRides(ctx context.Context, args map[string]any) string {
	clientID := argInt(args, "client_id", 0)
	if clientID <= 0 {
		return "A valid client id is needed. Identify the rider first with get_client_name."
	}
	rides, err := t.backend.HistoricRides(ctx, clientID, t.affiliateIDLocked())
	if err != nil {
		t.logger.Warn("historic_rides_failed", "error", err)
		return "I could not fetch the rider's ride history right now. Apologise and offer to try again."
	}
	if len(rides) == 0 {
		return "The rider has no completed rides on file."
	}
	return jsonString(map[string]any{
		"rides":               rides,
		"latest_reference_id": latestRefID(rides),
	})
}

// getTripStats prefers the client id pinned at enrichment so the model
// never has to supply one it could hallucinate.
func (t *Toolbox) getTripStats(ctx context.Context, args map[string]any) string {
	clientID := argInt(args, "client_id", 0)
	if clientID <= 0 {
		if pinned, err := strconv.Atoi(t.ClientID()); err == nil {
			clientID = pinned
		}
	}
	if clientID <= 0 {
		return "A valid client id is needed. Identify the rider first with get_client_name."
	}
	stats, err := t.backend.TripStats(ctx, clientID)
	if err != nil {
		t.logger.Warn("trip_stats_failed", "error", err)
		return "I could not fetch the rider's trip statistics right now. Apologise and offer to try again."
	}
	if len(stats) == 0 {
		return "No trip statistics are on file for this rider."
	}
	return jsonString(stats)
}

func (t *Toolbox) getFrequentAddresses(ctx context.Context, args map[string]any) string {
	clientID := argInt(args, "client_id", 0)
	if clientID <= 0 {
		return "A valid client id is needed. Identify the rider first with get_client_name."
	}
	addresses, err := t.FrequentAddresses(ctx, clientID)
	if err != nil {
		t.logger.Warn("frequent_addresses_failed", "error", err)
		return "I could not fetch the rider's frequent addresses."
	}
	if len(addresses) == 0 {
		return "The rider has no address history."
	}
	return jsonString(map[string]any{"frequent_addresses": addresses})
}

// FrequentAddresses extracts the unique pickup/dropoff addresses from
// ride history, order of first appearance. The session also calls this
// during enrichment for prompt priming.
func (t *Toolbox) FrequentAddresses(ctx context.Context, clientID int) ([]string, error) {
	rides, err := t.backend.HistoricRides(ctx, clientID, t.affiliateIDLocked())
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, ride := range rides {
		for key, val := range ride {
			if !strings.Contains(strings.ToLower(key), "address") {
				continue
			}
			addr, _ := val.(string)
			addr = strings.TrimSpace(addr)
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out, nil
}

func (t *Toolbox) getDistanceFare(ctx context.Context, args map[string]any) string {
	pLat := argFloat(args, "pickup_lat", 0)
	pLng := argFloat(args, "pickup_lng", 0)
	dLat := argFloat(args, "dropoff_lat", 0)
	dLng := argFloat(args, "dropoff_lng", 0)
	if pLat == 0 && pLng == 0 {
		return "Pick Up address is not verified. Use [get_valid_addresses] function to verify it first."
	}
	if dLat == 0 && dLng == 0 {
		return "Drop Off address is not verified. Use [get_valid_addresses] function to verify it first."
	}

	est, err := t.estimate(ctx, pLat, pLng, dLat, dLng,
		argInt(args, "wheelchairs", 0),
		argInt(args, "passengers", 1),
		argString(args, "rider_id"),
		argInt(args, "funding_source_id", -1))
	if err != nil {
		t.logger.Warn("fare_estimate_failed", "error", err)
		return "I could not estimate the fare right now. Apologise and offer to try again in a moment."
	}
	return fmt.Sprintf(
		"The trip is about %.1f miles and takes around %.0f minutes. The estimated cost is $%.2f with a copay of $%.2f.",
		est.DistanceMiles, est.DurationMinutes, est.TotalCost, est.Copay)
}

// estimate is the two-call composition: directions for distance and
// duration, then the fare estimator.
func (t *Toolbox) estimate(ctx context.Context, pLat, pLng, dLat, dLng float64, wheelchairs, passengers int, riderID string, fundingID int) (payload.Estimates, error) {
	leg, err := t.backend.Directions(ctx, pLat, pLng, dLat, dLng)
	if err != nil {
		return payload.Estimates{}, err
	}
	if passengers <= 0 {
		passengers = 1
	}
	fare, err := t.backend.Fare(ctx, backend.FareRequest{
		Distance:            leg.Miles(),
		TravelTime:          leg.Minutes(),
		FundingSourceID:     fundingID,
		NumberOfWheelchairs: wheelchairs,
		NumberOfPassengers:  passengers,
		AffiliateID:         t.affiliateIDLocked(),
		PickupLatitude:      pLat,
		PickupLongitude:     pLng,
		RiderID:             riderID,
	})
	if err != nil {
		return payload.Estimates{}, err
	}
	return payload.Estimates{
		DistanceMiles:   leg.Miles(),
		DurationMinutes: leg.Minutes(),
		TotalCost:       fare.TotalCost,
		Copay:           fare.Copay,
	}, nil
}

// collectLeg assembles one leg. Idempotent: a repeated call overwrites
// the stored leg rather than appending.
func (t *Toolbox) collectLeg(ctx context.Context, args map[string]any, isReturn bool) string {
	p := legParamsFromArgs(args)
	if payload.SafeFloat(p.PickupLat) == 0 && payload.SafeFloat(p.PickupLng) == 0 {
		return "Pick Up address is not verified. Use [get_valid_addresses] function to verify it first."
	}
	if payload.SafeFloat(p.DropoffLat) == 0 && payload.SafeFloat(p.DropoffLng) == 0 {
		return "Drop Off address is not verified. Use [get_valid_addresses] function to verify it first."
	}

	if p.PhoneNumber == "" {
		p.PhoneNumber = phone.E164(t.callerPhone())
	}
	if p.ClientID == "" {
		p.ClientID = t.ClientID()
	}
	t.mu.Lock()
	home := t.riderHomeInfo
	t.mu.Unlock()
	if p.HomeAddress == "" {
		p.HomeAddress, p.HomeCity, p.HomeState = home.HomeAddress, home.HomeCity, home.HomeState
	}
	if p.RiderName == "" {
		p.RiderName = home.Name
	}

	est, err := t.estimate(ctx,
		payload.SafeFloat(p.PickupLat), payload.SafeFloat(p.PickupLng),
		payload.SafeFloat(p.DropoffLat), payload.SafeFloat(p.DropoffLng),
		p.TotalWheelchairs, p.TotalPassengers, p.RiderID,
		payload.SafeInt(p.FundingSourceID))
	if err != nil {
		t.logger.Warn("leg_estimate_failed", "error", err, "return_leg", isReturn)
		return "I could not estimate this trip. Verify both addresses and try again."
	}

	leg := payload.BuildLeg(p, t.affiliateIDLocked(), t.familyIDLocked(), est, t.now())
	if verr := payload.Validate(leg); verr != nil {
		return "The trip details did not validate: " + verr.JSON() + ". Correct the fields and collect the leg again."
	}

	label := "main"
	t.mu.Lock()
	if isReturn {
		t.returnLeg = leg
		t.returnEst = est
		label = "return"
	} else {
		t.mainLeg = leg
		t.mainEst = est
	}
	t.mu.Unlock()

	scheduled := payload.IsScheduled(p.BookingTime, p.IsWillCall, t.now())
	return fmt.Sprintf(
		"The %s leg is ready: %.1f miles, about %.0f minutes, estimated $%.2f with a $%.2f copay. Scheduled pickup: %v. Read the details back to the caller and confirm before booking.",
		label, est.DistanceMiles, est.DurationMinutes, est.TotalCost, est.Copay, scheduled)
}

// bookTrips submits the collected legs with the 1/2/4 s retry ladder.
// Legs survive failure untouched so the agent can retry without
// re-collecting; both clear only on success.
func (t *Toolbox) bookTrips(ctx context.Context) string {
	t.mu.Lock()
	main, ret := t.mainLeg, t.returnLeg
	mainEst := t.mainEst
	callID := t.callID
	t.mu.Unlock()

	if main == nil && ret == nil {
		return "There is no trip to book. Collect the trip details first with collect_main_trip_payload."
	}

	final := main
	if main != nil && ret != nil {
		final = payload.Combine(main, ret)
	} else if main == nil {
		final = ret
	}

	body, err := json.Marshal(final)
	if err != nil {
		return "The booking payload could not be encoded. Collect the trip again."
	}
	t.writePayloadArtifact(callID, body)

	if t.HoldMusic != nil {
		t.HoldMusic(true)
		defer t.HoldMusic(false)
	}

	var result backend.BookResult
	err = t.bookingRetry.DoContext(ctx, func(ctx context.Context) error {
		res, err := t.backend.BookTrip(ctx, body)
		if err != nil {
			t.logger.Warn("booking_attempt_failed", "error", err)
			return err
		}
		if res.ResponseCode != 200 || res.RefID == 0 {
			t.logger.Warn("booking_rejected", "response_code", res.ResponseCode, "message", res.Message)
			return fmt.Errorf("booking rejected with code %d", res.ResponseCode)
		}
		result = res
		return nil
	})
	if err != nil {
		return "I am sorry, the booking could not be completed right now. The trip details are saved; we can try again in a moment."
	}

	t.mu.Lock()
	t.mainLeg, t.returnLeg = nil, nil
	t.mainEst, t.returnEst = payload.Estimates{}, payload.Estimates{}
	t.bookedOnce = true
	t.mu.Unlock()
	t.logger.Info("transfer_disabled", "reason", "booking completed")

	refIDs := []string{strconv.Itoa(result.RefID)}
	for _, id := range result.ReturnLegIDs {
		refIDs = append(refIDs, strconv.Itoa(id))
	}

	var b strings.Builder
	if len(refIDs) > 1 {
		fmt.Fprintf(&b, "Both trips are booked. Your Trip Numbers are %s.", strings.Join(refIDs, " and "))
	} else {
		fmt.Fprintf(&b, "Your trip is booked. Your Trip Number is %s.", refIDs[0])
	}
	fmt.Fprintf(&b, " The ride is about %.1f miles and takes around %.0f minutes, estimated at $%.2f.",
		mainEst.DistanceMiles, mainEst.DurationMinutes, mainEst.TotalCost)
	if mainEst.Copay > 0 {
		fmt.Fprintf(&b, " A copay of $%.2f applies.", mainEst.Copay)
	}
	if t.web != nil {
		dest := dropoffAddress(final)
		if dest != "" {
			b.WriteString(" " + t.web.Weather(ctx, dest))
		}
	}
	return b.String()
}

// setKeypadMode flips DTMF handling between phone collection and the
// transfer shortcuts.
func (t *Toolbox) setKeypadMode(mode string) string {
	if t.KeypadMode == nil {
		return "Keypad handling is not available on this call."
	}
	switch mode {
	case "phone_collect", "transfer_shortcut":
		t.KeypadMode(mode)
		return "Keypad mode is now " + mode + "."
	}
	return "Unknown keypad mode. Use phone_collect or transfer_shortcut."
}

// writePayloadArtifact logs the final payload exactly once, before the
// first attempt.
func (t *Toolbox) writePayloadArtifact(callID string, body []byte) {
	if t.PayloadLogDir == "" {
		return
	}
	if err := os.MkdirAll(t.PayloadLogDir, 0o755); err != nil {
		t.logger.Warn("payload_artifact_failed", "error", err)
		return
	}
	path := filepath.Join(t.PayloadLogDir, "final_payload_"+callID+".txt")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.logger.Warn("payload_artifact_failed", "error", err)
	}
}

func (t *Toolbox) closeCall(ctx context.Context) string {
	if t.Say != nil {
		t.Say("Thank you for calling. Have a great day. Goodbye!")
	}
	if t.Hangup != nil {
		if err := t.Hangup(ctx); err != nil {
			t.logger.Warn("hangup_failed", "error", err)
		}
	}
	return "The call is ending. Do not say anything further."
}

func (t *Toolbox) searchWeb(ctx context.Context, args map[string]any) string {
	if t.web == nil {
		return "Web search is not available right now."
	}
	result, err := t.web.SearchSummarized(ctx, argString(args, "prompt"))
	if err != nil {
		t.logger.Warn("web_search_failed", "error", err)
		return "I could not look that up right now."
	}
	return result
}

func (t *Toolbox) getAddress(ctx context.Context, args map[string]any) string {
	if t.web == nil {
		return "Address lookup is not available right now."
	}
	result, err := t.web.GetAddress(ctx,
		argString(args, "prompt"),
		argString(args, "country"),
		argString(args, "city"),
		argString(args, "state"))
	if err != nil {
		t.logger.Warn("address_lookup_failed", "error", err)
		return "I could not find that place right now."
	}
	return result
}

func (t *Toolbox) selectRider(args map[string]any) string {
	clientID := strings.TrimSpace(argString(args, "client_id"))
	name := strings.TrimSpace(argString(args, "rider_name"))
	if clientID == "" || clientID == "0" || clientID == "-1" {
		return "A valid client id is required to select a profile."
	}
	t.SetClientID(clientID)
	t.logger.Info("rider_profile_selected", "client_id", clientID)
	if name != "" {
		return "Profile confirmed for " + name + " (client id " + clientID + ")."
	}
	return "Profile confirmed (client id " + clientID + ")."
}

func (t *Toolbox) callerPhone() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.riderPhone
}

func legParamsFromArgs(args map[string]any) payload.LegParams {
	return payload.LegParams{
		PickupStreetAddress:  argString(args, "pickup_street_address"),
		DropoffStreetAddress: argString(args, "dropoff_street_address"),
		PickupCity:           argString(args, "pickup_city"),
		DropoffCity:          argString(args, "dropoff_city"),
		PickupState:          argString(args, "pickup_state"),
		DropoffState:         argString(args, "dropoff_state"),
		PickupZip:            argString(args, "pickup_zip"),
		DropoffZip:           argString(args, "dropoff_zip"),
		PickupLat:            argString(args, "pickup_lat"),
		PickupLng:            argString(args, "pickup_lng"),
		DropoffLat:           argString(args, "dropoff_lat"),
		DropoffLng:           argString(args, "dropoff_lng"),
		PickupRemarks:        argString(args, "pickup_remarks"),
		PickupPhone:          argString(args, "pickup_phone"),
		DropoffRemarks:       argString(args, "dropoff_remarks"),
		DropoffPhone:         argString(args, "dropoff_phone"),
		ExtraDetails:         argString(args, "extra_details"),
		ClientID:             argString(args, "client_id"),
		RiderID:              argString(args, "rider_id"),
		RiderName:            argString(args, "rider_name"),
		FundingSourceID:      argString(args, "funding_source_id"),
		PaymentTypeID:        argString(args, "payment_type_id"),
		CopayFundingSource:   argString(args, "copay_funding_source_id"),
		CopayPaymentTypeID:   argString(args, "copay_payment_type_id"),
		BookingTime:          argString(args, "booking_time"),
		IsWillCall:           argBool(args, "is_will_call"),
		WillCallDay:          argString(args, "will_call_day"),
		TotalPassengers:      argInt(args, "total_passengers", 1),
		TotalWheelchairs:     argInt(args, "total_wheelchairs", 0),
	}
}

// latestRefID digs the reference id out of the most recent ride, which
// the backend returns first.
func latestRefID(rides []map[string]any) string {
	if len(rides) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rides[0]))
	for k := range rides[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "refid") || strings.Contains(lower, "referenceid") || lower == "irefid" {
			return fmt.Sprint(rides[0][k])
		}
	}
	return ""
}

func dropoffAddress(p *payload.TripPayload) string {
	trips := p.AddressInfo.Trips
	if len(trips) == 0 || len(trips[0].Details) < 2 {
		return ""
	}
	d := trips[0].Details[1].AddressDetails
	parts := []string{d.Address, d.City, d.State}
	var out []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return strings.Join(out, ", ")
}

func filterCopay(sources []backend.FundingSource, copayIDs []int) []backend.FundingSource {
	var out []backend.FundingSource
	for _, s := range sources {
		if containsInt(copayIDs, s.ID) {
			out = append(out, s)
		}
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		switch val := v.(type) {
		case string:
			return val
		case float64:
			if val == float64(int64(val)) {
				return strconv.FormatInt(int64(val), 10)
			}
			return strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(val)
		}
	}
	return ""
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func argBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}

var _ llm.ToolRegistry = (*Toolbox)(nil)
