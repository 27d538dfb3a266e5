// Package lead holds the canonical lead record produced by the format parsers,
// with per-field confidence and provenance.
package lead

import (
	"strings"
	"time"
)

// Confidence reflects how trustworthy an extracted value is
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Weight returns the numeric scale used to average confidences (high=3, medium=2, low=1)
func (c Confidence) Weight() float64 {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	default:
		return 1
	}
}

// ConfidenceFromMean maps an averaged weight back to a level
func ConfidenceFromMean(mean float64) Confidence {
	switch {
	case mean >= 2.5:
		return High
	case mean >= 1.5:
		return Medium
	default:
		return Low
	}
}

// Source is the provenance of an extracted value
type Source string

const (
	SourceParsed   Source = "parsed"   // matched directly in the text
	SourceInferred Source = "inferred" // derived from another parsed field
	SourceDefault  Source = "default"  // placeholder, no signal in the text
)

// Field is an extracted value with its confidence and provenance.
// A missing field is a nil *Field, never a Field holding an empty string.
type Field[T any] struct {
	Value        T          `json:"value"`
	Confidence   Confidence `json:"confidence"`
	Source       Source     `json:"source"`
	OriginalText string     `json:"originalText,omitempty"`
}

// NewField builds a field, returning nil for blank string values
func NewField[T any](value T, conf Confidence, src Source, original string) *Field[T] {
	if s, ok := any(value).(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return &Field[T]{Value: value, Confidence: conf, Source: src, OriginalText: original}
}

// Parsed is shorthand for a string field matched directly in the text
func Parsed(value string, conf Confidence, original string) *Field[string] {
	return NewField(strings.TrimSpace(value), conf, SourceParsed, strings.TrimSpace(original))
}

// Inferred is shorthand for a string field derived from another field
func Inferred(value, original string) *Field[string] {
	return NewField(strings.TrimSpace(value), High, SourceInferred, original)
}

// Flag is shorthand for a boolean field matched in the text
func Flag(value bool, conf Confidence, original string) *Field[bool] {
	return NewField(value, conf, SourceParsed, strings.TrimSpace(original))
}

// Str returns the value of a string field, or "" when absent
func Str(f *Field[string]) string {
	if f == nil {
		return ""
	}
	return f.Value
}

// SubscriberFieldCount is the number of addressable fields on a Subscriber
const SubscriberFieldCount = 14

// Subscriber is the main person of the lead
type Subscriber struct {
	Civility       *Field[string] `json:"civility,omitempty"`
	LastName       *Field[string] `json:"lastName,omitempty"`
	FirstName      *Field[string] `json:"firstName,omitempty"`
	BirthDate      *Field[string] `json:"birthDate,omitempty"`
	Email          *Field[string] `json:"email,omitempty"`
	Telephone      *Field[string] `json:"telephone,omitempty"`
	Address        *Field[string] `json:"address,omitempty"`
	PostalCode     *Field[string] `json:"postalCode,omitempty"`
	City           *Field[string] `json:"city,omitempty"`
	DepartmentCode *Field[string] `json:"departmentCode,omitempty"`
	Regime         *Field[string] `json:"regime,omitempty"`
	Category       *Field[string] `json:"category,omitempty"`
	Status         *Field[string] `json:"status,omitempty"`
	Profession     *Field[string] `json:"profession,omitempty"`
}

// Each calls fn for every addressable field in a fixed order, including absent ones
func (s *Subscriber) Each(fn func(name string, f *Field[string])) {
	fn("civility", s.Civility)
	fn("lastName", s.LastName)
	fn("firstName", s.FirstName)
	fn("birthDate", s.BirthDate)
	fn("email", s.Email)
	fn("telephone", s.Telephone)
	fn("address", s.Address)
	fn("postalCode", s.PostalCode)
	fn("city", s.City)
	fn("departmentCode", s.DepartmentCode)
	fn("regime", s.Regime)
	fn("category", s.Category)
	fn("status", s.Status)
	fn("profession", s.Profession)
}

// Empty reports whether no subscriber field is populated
func (s *Subscriber) Empty() bool {
	empty := true
	s.Each(func(_ string, f *Field[string]) {
		if f != nil {
			empty = false
		}
	})
	return empty
}

// Spouse has the same identity and professional shape as the subscriber
type Spouse struct {
	Civility   *Field[string] `json:"civility,omitempty"`
	LastName   *Field[string] `json:"lastName,omitempty"`
	FirstName  *Field[string] `json:"firstName,omitempty"`
	BirthDate  *Field[string] `json:"birthDate,omitempty"`
	Regime     *Field[string] `json:"regime,omitempty"`
	Category   *Field[string] `json:"category,omitempty"`
	Status     *Field[string] `json:"status,omitempty"`
	Profession *Field[string] `json:"profession,omitempty"`
}

// Each calls fn for every spouse field in a fixed order
func (s *Spouse) Each(fn func(name string, f *Field[string])) {
	fn("civility", s.Civility)
	fn("lastName", s.LastName)
	fn("firstName", s.FirstName)
	fn("birthDate", s.BirthDate)
	fn("regime", s.Regime)
	fn("category", s.Category)
	fn("status", s.Status)
	fn("profession", s.Profession)
}

// Count returns the number of populated spouse fields
func (s *Spouse) Count() int {
	n := 0
	s.Each(func(_ string, f *Field[string]) {
		if f != nil {
			n++
		}
	})
	return n
}

// Child is one dependent child; Gender is "M" or "F"
type Child struct {
	BirthDate *Field[string] `json:"birthDate,omitempty"`
	Gender    *Field[string] `json:"gender,omitempty"`
	Regime    *Field[string] `json:"regime,omitempty"`
}

// Project describes the insurance need
type Project struct {
	DateEffet        *Field[string] `json:"dateEffet,omitempty"`
	Plan             *Field[string] `json:"plan,omitempty"`
	Madelin          *Field[bool]   `json:"madelin,omitempty"`
	Resiliation      *Field[bool]   `json:"resiliation,omitempty"`
	CurrentlyInsured *Field[bool]   `json:"currentlyInsured,omitempty"`
}

// Empty reports whether no project field is populated
func (p *Project) Empty() bool {
	return p.DateEffet == nil && p.Plan == nil && p.Madelin == nil &&
		p.Resiliation == nil && p.CurrentlyInsured == nil
}

// CarrierFields is a carrier-prefixed sub-record filled by downstream mapping
type CarrierFields struct {
	Regime *Field[string] `json:"regime,omitempty"`
}

// Metadata describes how a record was produced
type Metadata struct {
	ParserUsed           string     `json:"parserUsed"`
	ParsingDate          time.Time  `json:"parsingDate"`
	SourceMessageID      string     `json:"sourceMessageId"`
	Confidence           Confidence `json:"confidence"`
	ParsedFieldsCount    int        `json:"parsedFieldsCount"`
	DefaultedFieldsCount int        `json:"defaultedFieldsCount"`
	Warnings             []string   `json:"warnings"`
}

// Record is the structured lead extracted from one message
type Record struct {
	Subscriber Subscriber               `json:"subscriber"`
	Spouse     *Spouse                  `json:"spouse,omitempty"`
	Children   []Child                  `json:"children"`
	Project    *Project                 `json:"project,omitempty"`
	Carriers   map[string]CarrierFields `json:"carriers,omitempty"`
	Metadata   Metadata                 `json:"metadata"`
}

// Warn appends a warning to the record metadata
func (r *Record) Warn(msg string) {
	r.Metadata.Warnings = append(r.Metadata.Warnings, msg)
}

// confidences collects the confidence of every present field in the record
func (r *Record) confidences() []Confidence {
	var out []Confidence
	add := func(_ string, f *Field[string]) {
		if f != nil {
			out = append(out, f.Confidence)
		}
	}
	r.Subscriber.Each(add)
	if r.Spouse != nil {
		r.Spouse.Each(add)
	}
	for _, c := range r.Children {
		add("", c.BirthDate)
		add("", c.Gender)
		add("", c.Regime)
	}
	if p := r.Project; p != nil {
		add("", p.DateEffet)
		add("", p.Plan)
		for _, f := range []*Field[bool]{p.Madelin, p.Resiliation, p.CurrentlyInsured} {
			if f != nil {
				out = append(out, f.Confidence)
			}
		}
	}
	return out
}

// OverallConfidence is the mean of all present field confidences
func (r *Record) OverallConfidence() Confidence {
	confs := r.confidences()
	if len(confs) == 0 {
		return Low
	}
	var sum float64
	for _, c := range confs {
		sum += c.Weight()
	}
	return ConfidenceFromMean(sum / float64(len(confs)))
}

// Finalize fills the metadata block once extraction is complete
func (r *Record) Finalize(parserName, messageID string, now time.Time) {
	parsed, defaulted := 0, 0
	r.Subscriber.Each(func(_ string, f *Field[string]) {
		switch {
		case f == nil:
		case f.Source == SourceDefault:
			defaulted++
		default:
			parsed++
		}
	})
	if r.Children == nil {
		r.Children = []Child{}
	}
	if r.Project != nil && r.Project.Empty() {
		r.Project = nil
	}
	if r.Spouse != nil && r.Spouse.Count() == 0 {
		r.Spouse = nil
	}
	r.Metadata.ParserUsed = parserName
	r.Metadata.ParsingDate = now
	r.Metadata.SourceMessageID = messageID
	r.Metadata.ParsedFieldsCount = parsed
	r.Metadata.DefaultedFieldsCount = defaulted
	r.Metadata.Confidence = r.OverallConfidence()
	if r.Metadata.Warnings == nil {
		r.Metadata.Warnings = []string{}
	}
}
