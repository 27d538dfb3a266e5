// Package validate scores how complete a lead record is and decides whether
// it can be created automatically or needs a human.
package validate

import (
	"fmt"
	"math"
	"regexp"

	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// Status is the completeness verdict
type Status string

const (
	StatusValid   Status = "valid"   // every critical and important field present
	StatusPartial Status = "partial" // critical present, some important missing
	StatusInvalid Status = "invalid" // a critical field is missing
)

// Decision is what the caller should do with the record
type Decision string

const (
	DecisionAutoCreate Decision = "auto_create"
	DecisionConfirm    Decision = "confirm"
	DecisionReject     Decision = "reject"
)

// Tier point budgets
const (
	criticalPoints  = 50
	importantPoints = 30
	optionalPoints  = 20
)

// RegimeCarriers are the carrier sub-records that may hold the regime instead
// of the subscriber.
var RegimeCarriers = []string{"alptis", "swisslife"}

// Result is the outcome of Validate
type Result struct {
	Status                Status   `json:"status"`
	MissingRequiredFields []string `json:"missingRequiredFields"`
	MissingOptionalFields []string `json:"missingOptionalFields"`
	Warnings              []string `json:"warnings"`
	Score                 int      `json:"score"`
}

// Decision maps the status onto the follow-up action
func (r Result) Decision() Decision {
	switch r.Status {
	case StatusValid:
		return DecisionAutoCreate
	case StatusPartial:
		return DecisionConfirm
	default:
		return DecisionReject
	}
}

type check struct {
	name    string
	present func(*lead.Record) bool
}

func has(get func(*lead.Record) *lead.Field[string]) func(*lead.Record) bool {
	return func(r *lead.Record) bool { return get(r) != nil }
}

var (
	critical = []check{
		{"lastName", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.LastName })},
		{"firstName", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.FirstName })},
	}

	important = []check{
		{"civility", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Civility })},
		{"birthDate", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.BirthDate })},
		{"postalCode", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.PostalCode })},
		{"regime", hasRegime},
		{"dateEffet", func(r *lead.Record) bool { return r.Project != nil && r.Project.DateEffet != nil }},
	}

	optional = []check{
		{"email", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Email })},
		{"address", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Address })},
		{"city", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.City })},
		{"departmentCode", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.DepartmentCode })},
		{"profession", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Profession })},
		{"category", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Category })},
		{"status", has(func(r *lead.Record) *lead.Field[string] { return r.Subscriber.Status })},
		{"plan", func(r *lead.Record) bool { return r.Project != nil && r.Project.Plan != nil }},
		{"madelin", func(r *lead.Record) bool { return r.Project != nil && r.Project.Madelin != nil }},
	}
)

func hasRegime(r *lead.Record) bool {
	if r.Subscriber.Regime != nil {
		return true
	}
	for _, c := range RegimeCarriers {
		if cf, ok := r.Carriers[c]; ok && cf.Regime != nil {
			return true
		}
	}
	return false
}

// missing returns the names of absent fields and the share of present ones
func missing(r *lead.Record, checks []check) ([]string, float64) {
	var out []string
	for _, c := range checks {
		if !c.present(r) {
			out = append(out, c.name)
		}
	}
	return out, float64(len(checks)-len(out)) / float64(len(checks))
}

// Validate grades rec. It never fails: a nil record or one with an empty
// subscriber is invalid with a score of 0.
func Validate(rec *lead.Record) Result {
	res := Result{
		MissingRequiredFields: []string{},
		MissingOptionalFields: []string{},
		Warnings:              []string{},
	}
	if rec == nil {
		rec = &lead.Record{}
	}

	missCritical, c := missing(rec, critical)
	missImportant, i := missing(rec, important)
	missOptional, o := missing(rec, optional)

	res.MissingRequiredFields = append(res.MissingRequiredFields, missCritical...)
	res.MissingRequiredFields = append(res.MissingRequiredFields, missImportant...)
	res.MissingOptionalFields = append(res.MissingOptionalFields, missOptional...)

	switch {
	case len(missCritical) > 0:
		res.Status = StatusInvalid
	case len(missImportant) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusValid
	}

	if !rec.Subscriber.Empty() {
		res.Score = int(math.Round(criticalPoints*c + importantPoints*i + optionalPoints*o))
	}
	res.Warnings = append(res.Warnings, warnings(rec)...)
	return res
}

var postalShapeRe = regexp.MustCompile(`^\d{5}$`)

// warnings lists advisory quality issues; they never change status or score
func warnings(rec *lead.Record) []string {
	var out []string
	s := rec.Subscriber

	if s.Email != nil && text.CleanEmail(s.Email.Value) == "" {
		out = append(out, fmt.Sprintf("email: malformed value %q", s.Email.Value))
	}
	if s.Telephone != nil && text.CleanPhone(s.Telephone.Value) != s.Telephone.Value {
		out = append(out, fmt.Sprintf("telephone: malformed value %q", s.Telephone.Value))
	}
	if s.PostalCode != nil && !postalShapeRe.MatchString(s.PostalCode.Value) {
		out = append(out, fmt.Sprintf("postalCode: malformed value %q", s.PostalCode.Value))
	}
	checkDate := func(name string, f *lead.Field[string]) {
		if f != nil && text.CleanDate(f.Value) != f.Value {
			out = append(out, fmt.Sprintf("%s: malformed date %q", name, f.Value))
		}
	}
	checkDate("birthDate", s.BirthDate)
	if rec.Project != nil {
		checkDate("dateEffet", rec.Project.DateEffet)
	}

	lowConf := func(prefix string) func(string, *lead.Field[string]) {
		return func(name string, f *lead.Field[string]) {
			lowConfidence(&out, prefix+name, f)
		}
	}
	s.Each(lowConf(""))
	if p := rec.Project; p != nil {
		lowConfidence(&out, "project.dateEffet", p.DateEffet)
		lowConfidence(&out, "project.plan", p.Plan)
		lowConfidence(&out, "project.madelin", p.Madelin)
		lowConfidence(&out, "project.resiliation", p.Resiliation)
		lowConfidence(&out, "project.currentlyInsured", p.CurrentlyInsured)
	}

	if sp := rec.Spouse; sp != nil {
		checkDate("spouse.birthDate", sp.BirthDate)
		sp.Each(lowConf("spouse."))
		if n := sp.Count(); n < 2 {
			out = append(out, fmt.Sprintf("spouse: only %d field populated", n))
		}
	}
	for i, ch := range rec.Children {
		lowConfidence(&out, fmt.Sprintf("children[%d].birthDate", i), ch.BirthDate)
		lowConfidence(&out, fmt.Sprintf("children[%d].gender", i), ch.Gender)
		lowConfidence(&out, fmt.Sprintf("children[%d].regime", i), ch.Regime)
		if ch.BirthDate == nil {
			out = append(out, fmt.Sprintf("children[%d]: missing birth date", i))
			continue
		}
		checkDate(fmt.Sprintf("children[%d].birthDate", i), ch.BirthDate)
	}
	return out
}

func lowConfidence[T any](out *[]string, name string, f *lead.Field[T]) {
	if f != nil && f.Confidence == lead.Low {
		*out = append(*out, name+": low confidence")
	}
}
