package platform

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Platform
		wantErr bool
	}{
		{"whatsapp", WhatsApp, false},
		{"  WhatsApp  ", WhatsApp, false},
		{"INSTAGRAM", Instagram, false},
		{"telegram", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported(WhatsApp) || !IsSupported(Instagram) {
		t.Error("expected built-in platforms to be supported")
	}
	if IsSupported(Platform("sms")) {
		t.Error("expected unknown platform to be unsupported")
	}
}
