package devicemodel

import "testing"

func TestSetRejectsFormatViolation(t *testing.T) {
	m := New(nil, []string{"Core"})
	if got := m.Set("HeartbeatInterval", "not-a-number"); got != SetRejected {
		t.Fatalf("expected Rejected, got %s", got)
	}
}

func TestSetNotSupportedForAbsentKey(t *testing.T) {
	m := New(nil, []string{"Core"})
	if got := m.Set("NoSuchKey", "1"); got != SetNotSupported {
		t.Fatalf("expected NotSupported, got %s", got)
	}
}

func TestAuthorizationKeyIsWriteOnlyButReportedAsSentinel(t *testing.T) {
	m := New(nil, []string{"Security"})
	if got := m.Set("AuthorizationKey", "deadbeefdeadbeef"); got != SetAccepted {
		t.Fatalf("expected Accepted, got %s", got)
	}
	v, ok := m.Get("AuthorizationKey")
	if !ok || v != "****" {
		t.Fatalf("expected sentinel, got %q ok=%v", v, ok)
	}
	found := false
	for _, r := range m.GetAllForReport() {
		if r.Key == "AuthorizationKey" {
			found = true
			if r.Value != "****" {
				t.Fatalf("expected sentinel in report, got %q", r.Value)
			}
		}
	}
	if !found {
		t.Fatal("AuthorizationKey missing from report")
	}
}

func TestAuthorizationKeyRejectsShortValue(t *testing.T) {
	m := New(nil, []string{"Security"})
	if got := m.Set("AuthorizationKey", "short"); got != SetRejected {
		t.Fatalf("expected Rejected, got %s", got)
	}
}

func TestHotKeyFiresNotification(t *testing.T) {
	m := New(nil, []string{"Core"})
	var gotKey, gotValue string
	m.OnHotKeyChanged = func(key, value string) {
		gotKey, gotValue = key, value
	}
	if got := m.Set("HeartbeatInterval", "120"); got != SetAccepted {
		t.Fatalf("expected Accepted, got %s", got)
	}
	if gotKey != "HeartbeatInterval" || gotValue != "120" {
		t.Fatalf("notification not fired correctly: key=%q value=%q", gotKey, gotValue)
	}
}

func TestGetAllForReportFiltersBySupportedFeatureProfiles(t *testing.T) {
	m := New(nil, []string{"Core"})
	for _, r := range m.GetAllForReport() {
		if r.Section == SectionSmartCharging {
			t.Fatalf("SmartCharging key %q leaked without that profile being supported", r.Key)
		}
	}
}

func TestBooleanRejectsNonTrueFalse(t *testing.T) {
	m := New(nil, []string{"Core"})
	if got := m.Set("AuthorizeRemoteTxRequests", "yes"); got != SetRejected {
		t.Fatalf("expected Rejected, got %s", got)
	}
}
