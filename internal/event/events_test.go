package event

import "testing"

func TestDecodeFlagChange(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		skip     bool
		listened bool
	}{
		{"deletion", `[2, 10, 128, 200]`, false, false},
		{"deleted for all", `[2, 11, 131200, 200]`, false, false},
		{"spam", `[2, 12, 64, 200]`, false, false},
		{"voice listened", `[2, 13, 4096, 200]`, false, true},
		{"important only", `[2, 14, 8, 200]`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := DecodeFlagChange(mustTuple(t, tt.raw))
			if err != nil {
				t.Fatalf("DecodeFlagChange: %v", err)
			}
			if tt.skip {
				if fc != nil {
					t.Fatalf("expected skip, got %+v", fc)
				}
				return
			}
			if fc == nil {
				t.Fatal("expected a flag change, got nil")
			}
			if fc.PeerID != 200 {
				t.Errorf("PeerID = %d, want 200", fc.PeerID)
			}
			if fc.Listened != tt.listened {
				t.Errorf("Listened = %v, want %v", fc.Listened, tt.listened)
			}
		})
	}
}

func TestDecodeReadMarker(t *testing.T) {
	rm, err := DecodeReadMarker(mustTuple(t, `[6, 200, 55, 3]`))
	if err != nil {
		t.Fatalf("DecodeReadMarker: %v", err)
	}
	if rm.PeerID != 200 || rm.MsgID != 55 || rm.Unread != 3 {
		t.Errorf("got %+v", rm)
	}

	out, err := DecodeReadMarker(mustTuple(t, `[7, 200, 56]`))
	if err != nil {
		t.Fatalf("DecodeReadMarker: %v", err)
	}
	if out.MsgID != 56 || out.Unread != 0 {
		t.Errorf("got %+v", out)
	}
}

func TestDecodePresence(t *testing.T) {
	p, err := DecodePresence(mustTuple(t, `[8, -555, 4, 1600000000, 2274003]`), true)
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if p.UserID != 555 {
		t.Errorf("UserID = %d, want 555 (negated)", p.UserID)
	}
	if !p.Online || p.Platform != 4 || p.AppID != 2274003 {
		t.Errorf("got %+v", p)
	}
}

func TestDecodeTyping(t *testing.T) {
	ty, err := DecodeTyping(mustTuple(t, `[63, 2000000123, [11, 22], 2, 1600000000]`))
	if err != nil {
		t.Fatalf("DecodeTyping: %v", err)
	}
	if ty.PeerID != 2000000123 {
		t.Errorf("PeerID = %d", ty.PeerID)
	}
	if len(ty.UserIDs) != 2 || ty.UserIDs[0] != 11 || ty.UserIDs[1] != 22 {
		t.Errorf("UserIDs = %v", ty.UserIDs)
	}
}

func TestDecodePushSettings(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		until int64
	}{
		{"forever", `[114, {"peer_id": 200, "sound": 0, "disabled_until": -1}]`, -1},
		{"enabled", `[114, {"peer_id": 200, "sound": 1, "disabled_until": 0}]`, 0},
		{"timed", `[114, {"peer_id": 200, "disabled_until": 1700000000}]`, 1700000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := DecodePushSettings(mustTuple(t, tt.raw))
			if err != nil {
				t.Fatalf("DecodePushSettings: %v", err)
			}
			if ps.PeerID != 200 || ps.DisabledUntil != tt.until {
				t.Errorf("got %+v", ps)
			}
		})
	}
}
