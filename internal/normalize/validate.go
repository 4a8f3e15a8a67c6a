package normalize

import (
	"regexp"
	"strings"
)

// ValidationResult is the outcome of cleaning and grading reply content.
type ValidationResult struct {
	Content   string
	Formatted bool
	Quality   Quality
	Warnings  []string
}

var (
	errorPrefixPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^Error:`),
		regexp.MustCompile(`(?i)^API Error:`),
		regexp.MustCompile(`^错误[:：]`),
		regexp.MustCompile(`^API错误[:：]`),
	}

	refusalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)I cannot|I can't|I'm not able to`),
		regexp.MustCompile(`我不能|我无法|抱歉`),
		regexp.MustCompile(`(?i)sorry.*cannot`),
		regexp.MustCompile(`(?i)against.*policy`),
	}

	crlfRe          = regexp.MustCompile(`\r\n`)
	blankRunsRe     = regexp.MustCompile(`\n{3,}`)
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)

	replacementCharRe = regexp.MustCompile("�")

	sentenceSplitRe = regexp.MustCompile(`[.!?。！？]`)
)

// Validate cleans up whitespace and grades content quality. It never fails:
// empty or unusable input degrades to QualityBad with a warning. Multiple
// issues accumulate as warnings; the final grade is the worst triggered.
func Validate(content string) ValidationResult {
	if content == "" {
		return ValidationResult{
			Content:  "",
			Quality:  QualityBad,
			Warnings: []string{"response content is empty or invalid"},
		}
	}

	warnings := []string{}
	quality := QualityGood

	for _, p := range errorPrefixPatterns {
		if p.MatchString(content) {
			warnings = append(warnings, "response starts with an error marker")
			quality = worse(quality, QualityPoor)
			break
		}
	}

	cleaned := crlfRe.ReplaceAllString(content, "\n")
	cleaned = trailingSpaceRe.ReplaceAllString(cleaned, "\n")
	cleaned = blankRunsRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = strings.TrimSpace(cleaned)
	formatted := cleaned != content

	switch {
	case len(cleaned) == 0:
		quality = worse(quality, QualityBad)
		warnings = append(warnings, "response content is empty")
	case len(cleaned) < 10:
		quality = worse(quality, QualityPoor)
		warnings = append(warnings, "response content too short, may be incomplete")
	default:
		words := strings.Fields(cleaned)
		if len(words) > 50 {
			unique := make(map[string]struct{}, len(words))
			for _, w := range words {
				unique[w] = struct{}{}
			}
			if float64(len(unique)) < float64(len(words))*0.3 {
				quality = worse(quality, QualityPoor)
				warnings = append(warnings, "response is highly repetitive")
			}
		}
		if len(cleaned) > 100 && len(sentenceSplitRe.Split(cleaned, -1)) == 1 {
			quality = worse(quality, QualityPoor)
			warnings = append(warnings, "response lacks sentence punctuation, may be incomplete")
		}
	}

	if replacementCharRe.MatchString(cleaned) {
		quality = worse(quality, QualityPoor)
		warnings = append(warnings, "response contains mangled-encoding characters")
	}

	// Refusals are surfaced but do not downgrade on their own.
	if len(cleaned) < 500 {
		for _, p := range refusalPatterns {
			if p.MatchString(cleaned) {
				warnings = append(warnings, "model may have refused the request")
				break
			}
		}
	}

	return ValidationResult{
		Content:   cleaned,
		Formatted: formatted,
		Quality:   quality,
		Warnings:  warnings,
	}
}
