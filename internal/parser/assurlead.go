package parser

import (
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/extract"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// assurLead handles AssurLead exports, usually a two-column or header/value
// table, sometimes flattened to "Label : value" text.
type assurLead struct{}

// tableField is one subscriber or project field read from a table
type tableField struct {
	labels []*regexp.Regexp
	norm   func(string) string
	set    func(*lead.Record, *lead.Field[string])
}

var assurLeadFields = []tableField{
	{labels(`civilite`, `titre`, `genre`), extract.NormalizeCivility, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Civility = f }},
	{labels(`nom`, `nom de famille`, `nom de naissance`), extract.NormalizeLastName, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.LastName = f }},
	{labels(`prenom`), extract.NormalizeFirstName, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.FirstName = f }},
	{labels(`date de naissance`, `naissance`, `ne\(e\) le`, `date naiss\.?`, `ddn`), extract.NormalizeDate, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.BirthDate = f }},
	{labels(`e-?mail`, `adresse e-?mail`, `courriel`, `mail`), extract.NormalizeEmail, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Email = f }},
	{labels(`telephone`, `tel\.?`, `portable`, `mobile`, `telephone (?:portable|mobile|fixe)`, `fixe`, `gsm`), extract.NormalizePhone, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Telephone = f }},
	{labels(`adresse`, `adresse postale`, `rue`), extract.NormalizeAddress, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Address = f }},
	{labels(`code postal`, `cp`), text.CleanPostalCode, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.PostalCode = f }},
	{labels(`ville`, `commune`), extract.NormalizeCity, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.City = f }},
	{labels(`regime`, `regime social`, `statut social`), extract.NormalizeRegime, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Regime = f }},
	{labels(`categorie`, `csp`, `categorie socio-?professionnelle`), extract.NormalizeCategory, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Category = f }},
	{labels(`statut`, `statut professionnel`, `situation professionnelle`), extract.NormalizeStatus, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Status = f }},
	{labels(`profession`, `metier`, `activite professionnelle`), extract.NormalizeProfession, func(r *lead.Record, f *lead.Field[string]) { r.Subscriber.Profession = f }},
	{labels(`date d'effet`, `date d'effet souhaitee`, `date de debut`, `debut de contrat`), extract.NormalizeDate, func(r *lead.Record, f *lead.Field[string]) { r.Project.DateEffet = f }},
	{labels(`gamme`, `formule`, `produit`, `offre`, `garantie souhaitee`), extract.NormalizePlan, func(r *lead.Record, f *lead.Field[string]) { r.Project.Plan = f }},
}

var (
	userIDLabels = labels(`user ?id`, `identifiant(?: utilisateur)?`)
	besoinLabels = labels(`besoin`, `besoin en assurance`, `type de besoin`)

	userIDRe = regexp.MustCompile(`(?im)(?:^|[|\t ])[ \t]*(?:user ?id|identifiant utilisateur)[ \t]*[:|\t][ \t]*([^\s|]+)`)
	besoinRe = regexp.MustCompile(`(?im)(?:^|[|\t ])[ \t]*(?:type de besoin|besoin en assurance|besoin)[ \t]*[:|\t][ \t]*([^\n|\t]*[^\s|])`)
)

func (p *assurLead) Name() Dialect { return DialectAssurLead }
func (p *assurLead) Priority() int { return PriorityAssurLead }

// CanParse accepts an explicit AssurLead mention, a tab header together with
// AssurLead markers, or the civility + contact + profession combination
func (p *assurLead) CanParse(msg lead.Message) bool {
	s := scoringText(msg)
	return extract.MentionsAssurLead(s) ||
		(extract.HasTabHeader(s) && extract.HasAssurLeadMarkers(s)) ||
		extract.HasBasicFields(s)
}

func (p *assurLead) Parse(msg lead.Message) (*lead.Record, error) {
	body := msg.RawText()
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	var rec *lead.Record
	var t table
	if extract.IsTabular(body, msg.HTMLBody) {
		if msg.HTMLBody != "" {
			t = tableFromHTML(msg.HTMLBody)
		}
		if len(t) == 0 {
			t = tableFromText(body)
		}
	}
	if len(t) > 0 {
		rec = fromTable(t)
	} else {
		b := extract.Common(body)
		rec = &lead.Record{Subscriber: b.Subscriber, Project: &b.Project}
	}

	// user id is tracked for support, not a lead field
	if id, _ := t.lookup(userIDLabels, nonEmpty); id != "" {
		rec.Warn("assurlead user id: " + id)
	} else if m := userIDRe.FindStringSubmatch(body); m != nil {
		rec.Warn("assurlead user id: " + m[1])
	}

	if rec.Project.Plan == nil {
		if v, raw := t.lookup(besoinLabels, extract.NormalizePlan); v != "" {
			rec.Project.Plan = lead.Parsed(v, lead.High, raw)
		} else if m := besoinRe.FindStringSubmatch(body); m != nil {
			rec.Project.Plan = lead.Parsed(extract.NormalizePlan(m[1]), lead.High, m[0])
		}
	}
	if rec.Project.CurrentlyInsured == nil {
		rec.Project.CurrentlyInsured = extract.CurrentlyInsured(body)
	}
	if rec.Project.Resiliation == nil {
		rec.Project.Resiliation = extract.Resiliation(body)
	}
	return rec, nil
}

// fromTable fills a record from table cells, normalizing each value as it
// is read
func fromTable(t table) *lead.Record {
	rec := &lead.Record{Project: &lead.Project{}}
	for _, f := range assurLeadFields {
		if v, raw := t.lookup(f.labels, f.norm); v != "" {
			f.set(rec, lead.Parsed(v, lead.High, raw))
		}
	}
	rec.Subscriber.DepartmentCode = extract.DepartmentCode(rec.Subscriber.PostalCode)
	return rec
}

func nonEmpty(v string) string { return strings.TrimSpace(v) }
