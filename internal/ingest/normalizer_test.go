package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "", CleanText(""))
	assert.Equal(t, "", CleanText(" \n\t "))
	assert.Equal(t, "a b c", CleanText("  a \n\n b \tc "))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Supports rural health networks.", StripMarkup("Supports <b>rural</b> health   networks."))
	assert.Equal(t, "R&D & outreach", StripMarkup("R&amp;D &amp; outreach"))
	assert.Equal(t, "Description: a\nOther Criteria: b", StripMarkup("Description:  a \nOther Criteria: <i>b</i>"))
	assert.Equal(t, "café", StripMarkup("café"))
}

func TestInferLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PhD and Master's program", "phd, master"},
		{"Doctoral fellowship for undergraduate mentors", "phd, master, bachelor"},
		{"Bachelor of Science award", "bachelor"},
		{"Graduate study grant", "master"},
		{"Community arts prize", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, InferLevel(tt.in))
		})
	}
}

func TestIsStaleTitle(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, IsStaleTitle("2022 Fellowship Award", now))
	assert.True(t, IsStaleTitle("Spring 2023 / 2024 Grants", now))
	assert.False(t, IsStaleTitle("2025 Fellowship Award", now))
	assert.False(t, IsStaleTitle("2022–2026 Program", now), "max year governs")
	assert.False(t, IsStaleTitle("Fellowship Award", now))
	assert.False(t, IsStaleTitle("Award #12345 for 300 students", now))
	assert.Equal(t, []int{2022, 2026}, TitleYears("2022-2026 Program"))
}

func TestNormalizeCountry(t *testing.T) {
	assert.Equal(t, "", normalizeCountry("Unrestricted"))
	assert.Equal(t, "", normalizeCountry("unrestricted (any country)"))
	assert.Equal(t, "Canada, USA", normalizeCountry(" Canada,\n USA "))
}
