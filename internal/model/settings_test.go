package model

import "testing"

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"04:00", 4, 0, false},
		{"23:59", 23, 59, false},
		{" 7:05 ", 7, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (h != tt.h || m != tt.m) {
			t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}

func TestClockTimeFallback(t *testing.T) {
	p := BackupPolicy{TargetTime: "garbage"}
	h, m := p.ClockTime()
	if h != 4 || m != 0 {
		t.Errorf("ClockTime() = %d:%d, want 4:0", h, m)
	}
}

func TestFrequencyClamp(t *testing.T) {
	if got := (BackupPolicy{FrequencyDays: 0}).Frequency(); got != 1 {
		t.Errorf("Frequency() = %d, want 1", got)
	}
	if got := (BackupPolicy{FrequencyDays: 3}).Frequency(); got != 3 {
		t.Errorf("Frequency() = %d, want 3", got)
	}
}

func TestHasCredential(t *testing.T) {
	if (BackupPolicy{Credential: ""}).HasCredential() {
		t.Error("empty credential should not count")
	}
	if (BackupPolicy{Credential: "{}"}).HasCredential() {
		t.Error("trivial credential should not count")
	}
	if !(BackupPolicy{Credential: `{"token":{"access_token":"x"}}`}).HasCredential() {
		t.Error("credential should count")
	}
}

func TestPolicyPatchApply(t *testing.T) {
	p := DefaultSettings().Backup
	freq := 3
	folder := "  Nightly "
	PolicyPatch{FrequencyDays: &freq, FolderName: &folder}.Apply(&p)

	if p.FrequencyDays != 3 {
		t.Errorf("frequency = %d, want 3", p.FrequencyDays)
	}
	if p.FolderName != "Nightly" {
		t.Errorf("folder = %q, want %q", p.FolderName, "Nightly")
	}
	if p.TargetTime != DefaultBackupTime {
		t.Errorf("unspecified time changed to %q", p.TargetTime)
	}
	if p.RetentionDays != DefaultRetentionDays {
		t.Errorf("unspecified retention changed to %d", p.RetentionDays)
	}
}

func TestPolicyPatchValidate(t *testing.T) {
	zero := 0
	neg := -1
	bad := "25:00"
	empty := " "
	cases := map[string]PolicyPatch{
		"frequency": {FrequencyDays: &zero},
		"retention": {RetentionDays: &neg},
		"time":      {TargetTime: &bad},
		"folder":    {FolderName: &empty},
	}
	for name, p := range cases {
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := (PolicyPatch{RetentionDays: &zero}).Validate(); err != nil {
		t.Errorf("retention 0 should be valid: %v", err)
	}
}
