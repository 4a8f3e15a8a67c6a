// Package normalize turns arbitrary provider response bodies into a
// canonical NormalizedResponse: content, usage, finish reason, truncation
// flags, and a content quality report. It has no knowledge of transport.
package normalize

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	apperrors "github.com/seralys/lorekeeper/internal/errors"
)

// Quality grades the usability of a reply's content.
type Quality string

const (
	// QualityGood is a normal, usable reply.
	QualityGood Quality = "good"
	// QualityPoor is usable but suspicious (too short, repetitive, ...).
	QualityPoor Quality = "poor"
	// QualityBad is unusable (empty or invalid).
	QualityBad Quality = "bad"
)

// worse reports whether b is a more severe grade than a.
func worse(a, b Quality) Quality {
	rank := map[Quality]int{QualityGood: 0, QualityPoor: 1, QualityBad: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Usage is the normalized token accounting block.
type Usage struct {
	// TotalTokens is the provider-reported total, prompt plus completion.
	TotalTokens int `json:"total_tokens"`
}

// NormalizedResponse is the canonical result of one completed call.
// It is immutable after construction and owned by the caller.
type NormalizedResponse struct {
	Content          string   `json:"content"`
	Usage            *Usage   `json:"usage,omitempty"`
	Model            string   `json:"model"`
	FinishReason     string   `json:"finish_reason,omitempty"`
	Truncated        bool     `json:"truncated"`
	TruncationReason string   `json:"truncation_reason,omitempty"`
	Formatted        bool     `json:"formatted"`
	Quality          Quality  `json:"quality"`
	Warnings         []string `json:"warnings"`
}

// Normalize parses a raw provider body into a NormalizedResponse. The
// matcher chain is ordered; the first matcher producing non-empty content
// wins. configuredMaxTokens feeds the truncation heuristics.
//
// Fails with a provider error when the body carries an explicit error field
// and no data payload, and with an unparsable-response error when no shape
// matched and no recoverable text could be located.
func Normalize(raw []byte, requestedModel, callType string, configuredMaxTokens int) (*NormalizedResponse, error) {
	root := gjson.ParseBytes(raw)
	if !root.IsObject() && root.Type != gjson.String {
		return nil, apperrors.Unparsable(topLevelKeys(root))
	}

	// A bare JSON string is already the content.
	if root.Type == gjson.String {
		return finish(root.String(), "", nil, requestedModel, callType, configuredMaxTokens), nil
	}

	if errField := root.Get("error"); errField.Exists() && !root.Get("data").Exists() {
		msg := firstNonEmpty(
			errField.Get("message").String(),
			errField.Get("code").String(),
			errField.String(),
		)
		return nil, apperrors.Provider(msg)
	}

	m, ok := matchShape(root, 0)
	if !ok {
		log.WithFields(log.Fields{
			"call_type": callType,
			"keys":      topLevelKeys(root),
		}).Warn("no response shape matched")
		return nil, apperrors.Unparsable(topLevelKeys(root))
	}

	model := firstNonEmpty(m.model, requestedModel)
	return finish(m.content, m.finishReason, m.usage, model, callType, configuredMaxTokens), nil
}

// finish runs validation and truncation detection and assembles the final
// response value.
func finish(content, finishReason string, usage *Usage, model, callType string, maxTokens int) *NormalizedResponse {
	v := Validate(content)
	tr := DetectTruncation(v.Content, finishReason, usage, maxTokens)
	if tr.Truncated {
		log.WithFields(log.Fields{
			"call_type": callType,
			"reason":    tr.Reason,
		}).Warn("response looks truncated")
	}
	return &NormalizedResponse{
		Content:          v.Content,
		Usage:            usage,
		Model:            model,
		FinishReason:     finishReason,
		Truncated:        tr.Truncated,
		TruncationReason: tr.Reason,
		Formatted:        v.Formatted,
		Quality:          v.Quality,
		Warnings:         v.Warnings,
	}
}

func topLevelKeys(root gjson.Result) []string {
	keys := make([]string, 0, 8)
	root.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
