package bgp

import "testing"

// TestNotification_RoundTrip exercises the NOTIFICATION body codec,
// including a trailing Data remainder longer than the original's
// fixed 2-byte `data` field (e.g. a Cease shutdown-communication string).
func TestNotification_RoundTrip(t *testing.T) {
	want := NotificationMessage{ErrorCode: 6, ErrorSubcode: 2, Data: []byte("administratively shutting down")}
	wire := EncodeNotification(want)
	got, err := DecodeNotification(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ErrorCode != want.ErrorCode || got.ErrorSubcode != want.ErrorSubcode || string(got.Data) != string(want.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

// TestNotificationText_KnownCodes pins a handful of the RFC 4271 §4.5
// code/subcode pairs against their rendered text.
func TestNotificationText_KnownCodes(t *testing.T) {
	cases := []struct {
		code, subcode uint8
		want          string
	}{
		{3, 11, "Update Message Error: Malformed AS_PATH"},
		{2, 6, "OPEN Message Error: Unacceptable Hold Time"},
		{1, 2, "Message Header Error: Bad Message Length"},
		{6, 0, "Cease: subcode 0"},
		{9, 0, "Unknown code 9 subcode 0"},
	}
	for _, c := range cases {
		n := NotificationMessage{ErrorCode: c.code, ErrorSubcode: c.subcode}
		if got := n.NotificationText(); got != c.want {
			t.Errorf("code=%d subcode=%d: got %q want %q", c.code, c.subcode, got, c.want)
		}
	}
}
