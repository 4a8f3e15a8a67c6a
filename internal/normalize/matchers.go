package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// matched is the result of one shape matcher.
type matched struct {
	content      string
	finishReason string
	usage        *Usage
	model        string
}

// shapeMatcher recognizes one known provider response shape. Matchers are
// evaluated in order; a matcher succeeds only when it locates non-empty
// content.
type shapeMatcher struct {
	name  string
	match func(root gjson.Result, depth int) (matched, bool)
}

// maxDataRecursion bounds the nested-data unwrap (shape 5) and the deep
// key-name search (shape 6).
const maxDataRecursion = 1

var shapeMatchers []shapeMatcher

// matchNestedData re-enters matchShape, so the matcher list cannot be a
// composite-literal initializer.
func init() {
	shapeMatchers = []shapeMatcher{
		{name: "choices", match: matchChoices},
		{name: "candidates", match: matchCandidates},
		{name: "flat", match: matchFlat},
		{name: "nested-data", match: matchNestedData},
		{name: "deep-search", match: matchDeepSearch},
	}
}

// matchShape runs the ordered matcher chain against root.
func matchShape(root gjson.Result, depth int) (matched, bool) {
	for _, sm := range shapeMatchers {
		if m, ok := sm.match(root, depth); ok {
			return m, true
		}
	}
	return matched{}, false
}

// matchChoices handles the chat-completion style body: choices[0] with the
// content under one of several well-known paths. Some OpenAI-compatible
// gateways move the text around, hence the path list.
func matchChoices(root gjson.Result, _ int) (matched, bool) {
	choice := root.Get("choices.0")
	if !choice.Exists() {
		return matched{}, false
	}
	content := firstNonEmpty(
		choice.Get("message.content").String(),
		choice.Get("text").String(),
		choice.Get("content").String(),
		choice.Get("delta.content").String(),
		choice.Get("response").String(),
		choice.Get("message.text").String(),
		choice.Get("message.response").String(),
	)
	if content == "" {
		// Last resort inside the choice: any content-ish key.
		content = deepFindText(choice, 0)
	}
	if content == "" {
		return matched{}, false
	}
	return matched{
		content:      content,
		finishReason: choice.Get("finish_reason").String(),
		usage:        parseUsage(root.Get("usage")),
		model:        root.Get("model").String(),
	}, true
}

// matchCandidates handles the Gemini-style body.
func matchCandidates(root gjson.Result, _ int) (matched, bool) {
	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return matched{}, false
	}
	content := candidate.Get("content.parts.0.text").String()
	if content == "" {
		return matched{}, false
	}
	return matched{
		content:      content,
		finishReason: candidate.Get("finishReason").String(),
		usage:        parseUsage(root.Get("usageMetadata")),
	}, true
}

// matchFlat handles bodies carrying the text directly in a content, text,
// or response string field.
func matchFlat(root gjson.Result, _ int) (matched, bool) {
	for _, key := range []string{"content", "text", "response"} {
		if v := root.Get(key); v.Type == gjson.String && v.String() != "" {
			return matched{
				content: v.String(),
				usage:   parseUsage(root.Get("usage")),
				model:   root.Get("model").String(),
			}, true
		}
	}
	return matched{}, false
}

// matchNestedData unwraps a data envelope once and re-runs the chain.
func matchNestedData(root gjson.Result, depth int) (matched, bool) {
	if depth >= maxDataRecursion {
		return matched{}, false
	}
	data := root.Get("data")
	if !data.Exists() || !data.IsObject() {
		return matched{}, false
	}
	return matchShape(data, depth+1)
}

// matchDeepSearch scans object values (depth capped) for any key whose name
// contains a content-ish word and whose value is a non-empty string.
func matchDeepSearch(root gjson.Result, _ int) (matched, bool) {
	content := deepFindText(root, 0)
	if content == "" {
		return matched{}, false
	}
	return matched{content: content}, true
}

// maxSearchDepth bounds deepFindText recursion.
const maxSearchDepth = 3

var textKeyWords = []string{"content", "text", "response", "message"}

func deepFindText(node gjson.Result, depth int) string {
	if depth > maxSearchDepth {
		return ""
	}
	if node.Type == gjson.String && strings.TrimSpace(node.String()) != "" {
		return node.String()
	}
	if !node.IsObject() {
		return ""
	}
	found := ""
	node.ForEach(func(key, value gjson.Result) bool {
		lower := strings.ToLower(key.String())
		for _, w := range textKeyWords {
			if strings.Contains(lower, w) {
				if text := deepFindText(value, depth+1); text != "" {
					found = text
					return false
				}
			}
		}
		return true
	})
	return found
}

// parseUsage normalizes the provider-specific usage block. OpenAI uses
// total_tokens, some gateways camel-case it, Gemini reports
// usageMetadata.totalTokenCount.
func parseUsage(u gjson.Result) *Usage {
	if !u.Exists() {
		return nil
	}
	for _, key := range []string{"total_tokens", "totalTokens", "totalTokenCount"} {
		if v := u.Get(key); v.Exists() {
			return &Usage{TotalTokens: int(v.Int())}
		}
	}
	return &Usage{}
}
