package routing

import (
	"errors"
	"testing"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		topic   string
		want    bool
	}{
		{"exact match", "devices/light/lamp1/data", "devices/light/lamp1/data", true},
		{"exact mismatch", "devices/light/lamp1/data", "devices/light/lamp2/data", false},
		{"single wildcard one segment", "devices/+/lamp1/data", "devices/light/lamp1/data", true},
		{"single wildcard wrong depth", "devices/+/data", "devices/light/lamp1/data", false},
		{"two single wildcards", "devices/+/+/data", "devices/sensor/temp1/data", true},
		{"single wildcard not multi", "devices/+", "devices/light/lamp1", false},
		{"multi wildcard deep", "devices/#", "devices/light/lamp1/data", true},
		{"multi wildcard one segment", "devices/#", "devices/light", true},
		{"multi wildcard needs a segment", "devices/#", "devices", false},
		{"multi wildcard root", "#", "devices/light/lamp1/data", true},
		{"multi wildcard not final fails closed", "devices/#/data", "devices/light/data", false},
		{"mixed wildcards", "devices/+/#", "devices/light/lamp1/data", true},
		{"pattern longer than topic", "devices/light/lamp1/data/extra", "devices/light/lamp1/data", false},
		{"topic longer than pattern", "devices/light", "devices/light/lamp1", false},
		{"empty topic", "devices/+", "", false},
		{"empty pattern", "", "devices/light", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"literal", "devices/light/lamp1/data", false},
		{"single wildcard", "devices/+/+/data", false},
		{"trailing multi", "devices/#", false},
		{"bare multi", "#", false},
		{"bare single", "+", false},
		{"empty", "", true},
		{"empty segment", "devices//data", true},
		{"trailing slash", "devices/light/", true},
		{"multi not last", "devices/#/data", true},
		{"wildcard in segment", "devices/light+/data", true},
		{"multi in segment", "devices/a#", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPattern) {
					t.Errorf("ValidatePattern(%q) = %v, want ErrInvalidPattern", tt.pattern, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidatePattern(%q) = %v, want nil", tt.pattern, err)
			}
		})
	}
}
