package compositor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractYear(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"ca. 1835", 1835, true},
		{"no digits here", 0, false},
		{"1290–1300", 1290, true},
		{"1850", 1850, true},
		{"Edo period (1615-1868)", 1615, true},
		{"12345 then 1901", 1901, true},
		{"19th century", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractYear(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatPeriod(t *testing.T) {
	tests := []struct {
		name   string
		period string
		mode   PeriodMode
		want   string
	}{
		{"since", "ca. 1835", PeriodSince, "Since 1835"},
		{"since range", "1290–1300", PeriodSince, "Since 1290"},
		{"age", "ca. 1835", PeriodAge, "ca. 1835 (191 years old)"},
		{"no year since", "no digits here", PeriodSince, "no digits here"},
		{"no year age", "no digits here", PeriodAge, "no digits here"},
		{"future year age", "circa 2999", PeriodAge, "circa 2999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPeriod(tt.period, tt.mode, 2026))
		})
	}
}

func TestParsePeriodMode(t *testing.T) {
	m, err := ParsePeriodMode("")
	assert.NoError(t, err)
	assert.Equal(t, PeriodSince, m)

	m, err = ParsePeriodMode("age")
	assert.NoError(t, err)
	assert.Equal(t, PeriodAge, m)

	_, err = ParsePeriodMode("epoch")
	assert.Error(t, err)
}
