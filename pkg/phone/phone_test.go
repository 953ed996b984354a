package phone

import "testing"

func TestFromSIP(t *testing.T) {
	if got := FromSIP("sip:+16318022590@10.0.0.2:5060"); got != "+16318022590" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := FromSIP("+13854156545"); got != "+13854156545" {
		t.Fatalf("non-URI input must pass through, got %q", got)
	}
}

func TestNationalIdempotent(t *testing.T) {
	inputs := []string{"+13854156545", "13854156545", "3854156545", "(385) 415-6545"}
	for _, in := range inputs {
		once := National(in)
		if once != "3854156545" {
			t.Fatalf("National(%q) = %q", in, once)
		}
		if twice := National(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q", once, twice)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := Display("+1 385.415.6545"); got != "385-415-6545" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Display("12345"); got != "12345" {
		t.Fatalf("short input must pass through, got %q", got)
	}
}

func TestConfirm(t *testing.T) {
	cases := map[string]string{
		"3854156545":   "(385) 415-6545",
		"13854156545":  "+1 (385) 415-6545",
		"385415":       "385415",
		"441234567890": "441234567890",
	}
	for in, want := range cases {
		if got := Confirm(in); got != want {
			t.Fatalf("Confirm(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLastTen(t *testing.T) {
	if got := LastTen("+1 (385) 415-6545"); got != "3854156545" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := LastTen("6545"); got != "6545" {
		t.Fatalf("short numbers returned whole, got %q", got)
	}
}
