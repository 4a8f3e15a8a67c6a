// Package record extracts fixed-schema profile records from free-text model
// output. A record is a tagged block of delimiter-separated fields; model
// replies may wrap it in commentary or include earlier illustrative blocks,
// so the last complete block is taken as authoritative.
package record

import "strings"

const (
	// OpenTag and CloseTag delimit a profile block in model output.
	OpenTag  = "<Student_Profile>"
	CloseTag = "</Student_Profile>"

	// FieldDelimiter separates fields inside a block. U+FF5C FULLWIDTH
	// VERTICAL LINE, not the ASCII pipe: the template uses the fullwidth
	// form so prose containing "|" never splits a field.
	FieldDelimiter = "｜"

	// FieldCount is the fixed schema width. Parsing always yields exactly
	// this many fields; missing trailing fields become empty strings and
	// extras are dropped.
	FieldCount = 19
)

// FieldNames lists the schema positions in order.
var FieldNames = [FieldCount]string{
	"name",
	"gender",
	"age",
	"measurements",
	"appearance",
	"background",
	"last_contact_note",
	"interview_result",
	"subject_opinion",
	"reviewer_note",
	"goals",
	"notes",
	"evaluator_summary",
	"psychological_state",
	"personality",
	"weaknesses",
	"strengths",
	"resistance_points",
	"preferences",
}

// Profile is one parsed record.
type Profile struct {
	Name               string `json:"name"`
	Gender             string `json:"gender"`
	Age                string `json:"age"`
	Measurements       string `json:"measurements"`
	Appearance         string `json:"appearance"`
	Background         string `json:"background"`
	LastContactNote    string `json:"last_contact_note"`
	InterviewResult    string `json:"interview_result"`
	SubjectOpinion     string `json:"subject_opinion"`
	ReviewerNote       string `json:"reviewer_note"`
	Goals              string `json:"goals"`
	Notes              string `json:"notes"`
	EvaluatorSummary   string `json:"evaluator_summary"`
	PsychologicalState string `json:"psychological_state"`
	Personality        string `json:"personality"`
	Weaknesses         string `json:"weaknesses"`
	Strengths          string `json:"strengths"`
	ResistancePoints   string `json:"resistance_points"`
	Preferences        string `json:"preferences"`
}

// ExtractBlock locates the last complete tagged block in text and returns
// it trimmed, tags included. It returns "" and false when no matching pair
// exists.
func ExtractBlock(text string) (string, bool) {
	end := strings.LastIndex(text, CloseTag)
	if end == -1 {
		return "", false
	}
	start := strings.LastIndex(text[:end], OpenTag)
	if start == -1 {
		return "", false
	}
	return strings.TrimSpace(text[start : end+len(CloseTag)]), true
}

// ParseFields strips the block tags and splits the remainder into exactly
// FieldCount strings. Absent trailing positions are filled with "" and
// positions beyond the schema are discarded.
func ParseFields(block string) [FieldCount]string {
	body := strings.ReplaceAll(block, OpenTag, "")
	body = strings.ReplaceAll(body, CloseTag, "")
	body = strings.TrimSpace(body)

	var out [FieldCount]string
	for i, part := range strings.Split(body, FieldDelimiter) {
		if i >= FieldCount {
			break
		}
		out[i] = strings.TrimSpace(part)
	}
	return out
}

// Parse extracts the last block from text and maps it onto a Profile.
// ok is false when text holds no complete block.
func Parse(text string) (Profile, string, bool) {
	block, ok := ExtractBlock(text)
	if !ok {
		return Profile{}, "", false
	}
	return FromFields(ParseFields(block)), block, true
}

// FromFields maps an ordered field array onto a Profile.
func FromFields(f [FieldCount]string) Profile {
	return Profile{
		Name:               f[0],
		Gender:             f[1],
		Age:                f[2],
		Measurements:       f[3],
		Appearance:         f[4],
		Background:         f[5],
		LastContactNote:    f[6],
		InterviewResult:    f[7],
		SubjectOpinion:     f[8],
		ReviewerNote:       f[9],
		Goals:              f[10],
		Notes:              f[11],
		EvaluatorSummary:   f[12],
		PsychologicalState: f[13],
		Personality:        f[14],
		Weaknesses:         f[15],
		Strengths:          f[16],
		ResistancePoints:   f[17],
		Preferences:        f[18],
	}
}

// Fields flattens a Profile back into schema order.
func (p Profile) Fields() [FieldCount]string {
	return [FieldCount]string{
		p.Name, p.Gender, p.Age, p.Measurements, p.Appearance,
		p.Background, p.LastContactNote, p.InterviewResult,
		p.SubjectOpinion, p.ReviewerNote, p.Goals, p.Notes,
		p.EvaluatorSummary, p.PsychologicalState, p.Personality,
		p.Weaknesses, p.Strengths, p.ResistancePoints, p.Preferences,
	}
}

// Block renders the profile back into its tagged wire form.
func (p Profile) Block() string {
	f := p.Fields()
	return OpenTag + "\n" + strings.Join(f[:], FieldDelimiter) + "\n" + CloseTag
}
