package transport

import "testing"

func TestSubprotocolFor(t *testing.T) {
	cases := map[string]string{"1.6": "ocpp1.6", "2.0.1": "ocpp2.0.1", "2.1": "ocpp2.1", "": "ocpp1.6", "bogus": "ocpp1.6"}
	for in, want := range cases {
		if got := subprotocolFor(in); got != want {
			t.Errorf("subprotocolFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDerivePasswordHexDecodesLongHexKeys(t *testing.T) {
	// 40 hex chars = 20 bytes
	key := "0123456789abcdef0123456789abcdef01234567"[:40]
	got := derivePassword(key)
	if got == key {
		t.Fatalf("expected hex-decoded password, got the raw key back")
	}
}

func TestDerivePasswordLeavesShortKeysAlone(t *testing.T) {
	key := "plaintextpw"
	if got := derivePassword(key); got != key {
		t.Fatalf("expected short key unchanged, got %q", got)
	}
}

func TestIsHex(t *testing.T) {
	if !isHex("deadbeef") {
		t.Fatal("expected deadbeef to be recognized as hex")
	}
	if isHex("not-hex!") {
		t.Fatal("expected not-hex! to be rejected")
	}
	if isHex("abc") {
		t.Fatal("expected odd-length string to be rejected")
	}
}
