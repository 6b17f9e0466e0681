package rest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    *Prefer
		minimal bool
		strict  bool
	}{
		{name: "absent", want: nil},
		{name: "minimal", headers: []string{"return=minimal"}, want: &Prefer{Return: "minimal"}, minimal: true},
		{name: "quoted and cased", headers: []string{`Return="Representation"`}, want: &Prefer{Return: "representation"}},
		{name: "invalid value", headers: []string{"return=everything"}, want: &Prefer{}},
		{name: "combined", headers: []string{"return=minimal, handling=strict"}, want: &Prefer{Return: "minimal", Handling: "strict"}, minimal: true, strict: true},
		{name: "repeated header", headers: []string{"handling=lenient", "return=minimal"}, want: &Prefer{Return: "minimal", Handling: "lenient"}, minimal: true},
		{name: "parameters ignored", headers: []string{"handling=strict; foo=bar"}, want: &Prefer{Handling: "strict"}, strict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for _, h := range tt.headers {
				r.Header.Add("Prefer", h)
			}
			got := parsePrefer(r)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.minimal, got.WantsMinimal())
			assert.Equal(t, tt.strict, got.Strict())
		})
	}
}
