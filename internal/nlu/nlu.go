// Package nlu provides the rule-based pattern matchers used by the conversation stages.
//
// Every classifier is an ordered list of case-insensitive regular expressions. Order is policy:
// the first tag whose list matches wins, and emergency is always checked first.
package nlu

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/models"
)

var emergencyPattern = regexp.MustCompile(`(?i)\b(emergency|urgent|heart attack|chest pain|stroke|dying|can't breathe|cannot breathe|bleeding|unconscious|911|severe|critical|collapsed|seizure|overdose|not breathing|passed out|severe pain)\b`)

type intentRule struct {
	intent   models.Intent
	patterns []*regexp.Regexp
}

// intentRules is evaluated top to bottom. Reschedule and cancel are checked before book so that
// "I want to change my appointment" is not read as a new booking.
var intentRules = []intentRule{
	{models.IntentReschedule, compileAll(
		`\b(reschedule|move|change|shift|postpone|rebook)\b.*\bappointment\b`,
		`\bappointment\b.*\b(reschedule|move|change)\b`,
		`\breschedule\b`,
	)},
	{models.IntentCancel, compileAll(
		`\b(cancel|remove|drop|delete)\b.*\bappointment\b`,
		`\bappointment\b.*\b(cancel|remove|drop)\b`,
		`\bcancel\b`,
	)},
	{models.IntentBook, compileAll(
		`\b(book|schedule|make|new|set up)\b.*\bappointment\b`,
		`\bappointment\b.*\b(book|schedule|make)\b`,
		`\bi (need|want|would like).*(appointment|see (a |the )?doctor)`,
	)},
	{models.IntentPrepInstructions, compileAll(
		`\b(prep|preparation|prepare|instructions?)\b.*\b(mri|ct|scan|colonoscopy|endoscopy|blood test|lab)\b`,
		`\b(fasting|fast)\b`,
	)},
}

type piiRule struct {
	field   models.PIIField
	pattern *regexp.Regexp
}

var piiRules = []piiRule{
	{models.PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{models.PIIDOB, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)},
	{models.PIIPhone, regexp.MustCompile(`\(?\b\d{3}\)?[\s-]\d{3}[\s-]\d{4}\b`)},
	{models.PIIEmail, regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.\w+\b`)},
	{models.PIIMRN, regexp.MustCompile(`(?i)\bMRN[:\s]?\s*\d{6,}\b`)},
}

type entityRule struct {
	kind    models.EntityKind
	pattern *regexp.Regexp
}

var entityRules = []entityRule{
	{models.EntityDates, regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|next\s+\w+|tomorrow|today|\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?)\b`)},
	{models.EntityTimes, regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm)|morning|afternoon|evening|noon)\b`)},
	{models.EntityProcedures, regexp.MustCompile(`(?i)\b(mri|ct scan|x-?ray|ultrasound|colonoscopy|endoscopy|blood test|lab work|imaging|surgery)\b`)},
}

var moderationPatterns = compileAll(
	`\b(bomb|weapon|kill|suicide|abuse)\b`,
	`\b(hack|exploit|injection)\b`,
)

var urgencyPattern = regexp.MustCompile(`(?i)\b(urgent|emergency|asap)\b`)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// DetectEmergency reports whether text contains an emergency keyword.
func DetectEmergency(text string) bool {
	return emergencyPattern.MatchString(text)
}

// ClassifyIntent returns the first matching intent. Emergency pre-empts every other rule.
func ClassifyIntent(text string) models.Intent {
	if DetectEmergency(text) {
		return models.IntentEmergency
	}
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if p.MatchString(text) {
				return rule.intent
			}
		}
	}
	return models.IntentUnknown
}

// DetectPII returns the PII tags present in text, in fixed tag order.
func DetectPII(text string) []models.PIIField {
	var found []models.PIIField
	for _, rule := range piiRules {
		if rule.pattern.MatchString(text) {
			found = append(found, rule.field)
		}
	}
	return found
}

// ExtractEntities returns every non-overlapping mention per category. Repeated mentions are
// kept once, in order of first appearance. Categories with no mention are absent.
func ExtractEntities(text string) map[models.EntityKind][]string {
	entities := make(map[models.EntityKind][]string)
	for _, rule := range entityRules {
		matches := rule.pattern.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[string]bool, len(matches))
		var ordered []string
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			ordered = append(ordered, m)
		}
		entities[rule.kind] = ordered
	}
	return entities
}

// IsDisallowed reports whether text touches the fixed disallowed-topic list.
func IsDisallowed(text string) bool {
	for _, p := range moderationPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsUrgent reports whether text carries an urgency keyword.
func IsUrgent(text string) bool {
	return urgencyPattern.MatchString(text)
}

// Vocabulary is a fixed set of accepted answers, compared after trimming and lower-casing.
type Vocabulary map[string]struct{}

// NewVocabulary builds a Vocabulary from words.
func NewVocabulary(words ...string) Vocabulary {
	v := make(Vocabulary, len(words))
	for _, w := range words {
		v[strings.ToLower(w)] = struct{}{}
	}
	return v
}

// Contains reports whether answer is one of the vocabulary words.
func (v Vocabulary) Contains(answer string) bool {
	_, ok := v[strings.ToLower(strings.TrimSpace(answer))]
	return ok
}

// Affirmative and Negative are the answers accepted by the interactive review stage.
var (
	Affirmative = NewVocabulary("yes", "y", "send", "confirm", "looks good", "correct", "ok", "sure", "yeah", "yep")
	Negative    = NewVocabulary("no", "n", "edit", "change", "redo", "wrong", "incorrect", "restart")
)
