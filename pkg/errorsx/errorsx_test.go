package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonBookingRejected)
	if Reason(err) != ReasonBookingRejected {
		t.Fatalf("expected reason %s, got %s", ReasonBookingRejected, Reason(err))
	}
	if !HasReason(err, ReasonBookingRejected) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonBackendRequest)
	second := Wrap(first, ReasonBookingRejected)
	if Reason(second) != ReasonBackendRequest {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestNewCarriesMessage(t *testing.T) {
	err := New(ReasonGeocodeEmpty, "no results for %q", "123 Main St")
	if err.Error() != `no results for "123 Main St"` {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if Reason(err) != ReasonGeocodeEmpty {
		t.Fatalf("expected geocode reason, got %s", Reason(err))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
