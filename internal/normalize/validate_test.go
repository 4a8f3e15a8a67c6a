package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmpty(t *testing.T) {
	got := Validate("")
	assert.Equal(t, QualityBad, got.Quality)
	assert.Empty(t, got.Content)
	assert.False(t, got.Formatted)
	assert.NotEmpty(t, got.Warnings)
}

func TestValidateWhitespaceCleanup(t *testing.T) {
	got := Validate("Line one.\r\nLine two.   \n\n\n\n\nLine three.  ")
	assert.True(t, got.Formatted)
	assert.Equal(t, "Line one.\nLine two.\n\nLine three.", got.Content)
	assert.Equal(t, QualityGood, got.Quality)
}

func TestValidateNoChangeNotFormatted(t *testing.T) {
	got := Validate("Already clean content, nothing to fix here.")
	assert.False(t, got.Formatted)
	assert.Equal(t, QualityGood, got.Quality)
	assert.Empty(t, got.Warnings)
}

func TestValidateErrorPrefixKeepsText(t *testing.T) {
	got := Validate("Error: upstream exploded, but here is the body anyway.")
	assert.Equal(t, QualityPoor, got.Quality)
	// The text is flagged, not stripped.
	assert.Contains(t, got.Content, "upstream exploded")
}

func TestValidateTooShort(t *testing.T) {
	got := Validate("ok then")
	assert.Equal(t, QualityPoor, got.Quality)
}

func TestValidateRepetitive(t *testing.T) {
	got := Validate(strings.Repeat("same words again ", 40))
	assert.Equal(t, QualityPoor, got.Quality)
	assert.Contains(t, strings.Join(got.Warnings, " "), "repetitive")
}

func TestValidateMissingPunctuation(t *testing.T) {
	got := Validate(strings.Repeat("just words flowing with no end in sight ", 4))
	assert.Equal(t, QualityPoor, got.Quality)
}

func TestValidateMangledEncoding(t *testing.T) {
	got := Validate("Something went wrong �� here but the rest is fine and long enough.")
	assert.Equal(t, QualityPoor, got.Quality)
}

func TestValidateRefusalWarningOnly(t *testing.T) {
	got := Validate("I cannot help with that request, it is against policy here.")
	// A refusal alone is a warning, not a downgrade.
	assert.Equal(t, QualityGood, got.Quality)
	assert.Contains(t, strings.Join(got.Warnings, " "), "refused")
}

func TestValidateAccumulatesWarnings(t *testing.T) {
	got := Validate("Error: 抱歉")
	assert.Equal(t, QualityPoor, got.Quality)
	assert.GreaterOrEqual(t, len(got.Warnings), 2)
}
