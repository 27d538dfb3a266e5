package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmail/leadmail/internal/lead"
)

func TestCivility(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		conf lead.Confidence
	}{
		{"labelled monsieur", "Civilité : Monsieur", "M.", lead.High},
		{"labelled abbreviation", "Civilité : Mme", "Mme", lead.High},
		{"table cell", "Civilité | Mlle", "Mlle", lead.High},
		{"salutation line", "Madame Claire MARTIN\nsouhaite un devis", "Mme", lead.Medium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Civility(tt.body)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Value)
			assert.Equal(t, tt.conf, f.Confidence)
			assert.Equal(t, lead.SourceParsed, f.Source)
		})
	}

	assert.Nil(t, Civility("Civilité : Docteur"))
	assert.Nil(t, Civility(""))
}

func TestNames(t *testing.T) {
	t.Run("labelled lines", func(t *testing.T) {
		body := "Nom : dupont\nPrénom : jean"
		assert.Equal(t, "DUPONT", LastName(body).Value)
		assert.Equal(t, "Jean", FirstName(body).Value)
		assert.Equal(t, lead.High, LastName(body).Confidence)
	})

	t.Run("two labels on one line", func(t *testing.T) {
		body := "Nom : DUPONT Prénom : Jean"
		assert.Equal(t, "DUPONT", LastName(body).Value)
		assert.Equal(t, "Jean", FirstName(body).Value)
	})

	t.Run("salutation", func(t *testing.T) {
		body := "Bonjour,\nMonsieur Jean DUPONT souhaite être rappelé."
		ln := LastName(body)
		require.NotNil(t, ln)
		assert.Equal(t, "DUPONT", ln.Value)
		assert.Equal(t, lead.Medium, ln.Confidence)
		assert.Equal(t, "Jean", FirstName(body).Value)
	})

	t.Run("rejects non-name values", func(t *testing.T) {
		assert.Nil(t, LastName("Nom : 12345"))
		assert.Nil(t, FirstName("Prénom : <b>"))
	})
}

func TestBirthDate(t *testing.T) {
	f := BirthDate("Date de naissance : 5/3/1980")
	require.NotNil(t, f)
	assert.Equal(t, "05/03/1980", f.Value)
	assert.Equal(t, lead.High, f.Confidence)

	f = BirthDate("Client né le 12.06.1975 à Lyon")
	require.NotNil(t, f)
	assert.Equal(t, "12/06/1975", f.Value)
	assert.Equal(t, lead.Medium, f.Confidence)

	assert.Nil(t, BirthDate("Date de naissance du 1er enfant : 01/01/2015"))
	assert.Nil(t, BirthDate("Date de naissance du conjoint : 04/05/1985"))
	assert.Nil(t, BirthDate("Date de naissance : 45/13/1980"))
}

func TestContact(t *testing.T) {
	t.Run("email", func(t *testing.T) {
		f := Email("Email : Jean.Dupont@Example.FR")
		require.NotNil(t, f)
		assert.Equal(t, "jean.dupont@example.fr", f.Value)
		assert.Equal(t, lead.High, f.Confidence)

		f = Email("Contact jean@example.com merci")
		require.NotNil(t, f)
		assert.Equal(t, "jean@example.com", f.Value)
		assert.Equal(t, lead.Medium, f.Confidence)

		assert.Nil(t, Email("Email : pas d'adresse"))
	})

	t.Run("telephone", func(t *testing.T) {
		tests := []struct {
			body string
			want string
			conf lead.Confidence
		}{
			{"Téléphone : 06 12 34 56 78", "0612345678", lead.High},
			{"Portable : +33 6 12 34 56 78", "0612345678", lead.High},
			{"Tél. : 01.23.45.67.89 (après 18h)", "0123456789", lead.High},
			{"merci d'appeler le 0612345678", "0612345678", lead.Medium},
		}
		for _, tt := range tests {
			f := Telephone(tt.body)
			require.NotNil(t, f, tt.body)
			assert.Equal(t, tt.want, f.Value, tt.body)
			assert.Equal(t, tt.conf, f.Confidence, tt.body)
		}
		assert.Nil(t, Telephone("Téléphone : 12"))
	})

	t.Run("address block", func(t *testing.T) {
		body := "Adresse : 12 rue de la Paix\n75001 Paris\n"
		assert.Equal(t, "12 rue de la Paix", Address(body).Value)

		postal := PostalCode(body)
		require.NotNil(t, postal)
		assert.Equal(t, "75001", postal.Value)
		assert.Equal(t, lead.Medium, postal.Confidence)

		city := City(body)
		require.NotNil(t, city)
		assert.Equal(t, "PARIS", city.Value)
	})

	t.Run("labelled postal code and city", func(t *testing.T) {
		body := "Code postal : 20100\nVille : Sartène"
		postal := PostalCode(body)
		require.NotNil(t, postal)
		assert.Equal(t, lead.High, postal.Confidence)
		assert.Equal(t, "SARTÈNE", City(body).Value)

		dept := DepartmentCode(postal)
		require.NotNil(t, dept)
		assert.Equal(t, "2A", dept.Value)
		assert.Equal(t, lead.SourceInferred, dept.Source)
		assert.Nil(t, DepartmentCode(nil))
	})

	t.Run("city normalization", func(t *testing.T) {
		assert.Equal(t, "LYON", NormalizeCity("69003 Lyon"))
		assert.Empty(t, NormalizeCity("Lyon 3"))
	})
}

func TestNormalizeRegime(t *testing.T) {
	tests := map[string]string{
		"Salarié":                 RegimeSalarie,
		"Travailleur non salarié": RegimeTNS,
		"TNS":                     RegimeTNS,
		"Régime TNS":              RegimeTNS,
		"Retraitée":               RegimeRetraite,
		"Profession libérale":     RegimeLiberal,
		"FONCTIONNAIRE":           RegimeFonctionnaire,
		"Exploitant agricole":     RegimeExploitantAgricole,
		"Auto-entrepreneur":       RegimeIndependant,
		"Étudiant":                RegimeEtudiant,
		"Sans emploi":             RegimeSansEmploi,
		"Transports":              "",
		"Astronaute":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeRegime(in), in)
	}
}

func TestProfessional(t *testing.T) {
	body := "Profession : Infirmière\nRégime : Salarié\nCatégorie : Non cadre\nStatut : Salarié"
	assert.Equal(t, "Infirmière", Profession(body).Value)
	assert.Equal(t, RegimeSalarie, Regime(body).Value)
	assert.Equal(t, "non_cadre", Category(body).Value)
	assert.Equal(t, RegimeSalarie, Status(body).Value)

	loose := Regime("Je suis travailleur non salarié depuis 2010")
	require.NotNil(t, loose)
	assert.Equal(t, RegimeTNS, loose.Value)
	assert.Equal(t, lead.Low, loose.Confidence)

	assert.Nil(t, Profession("Profession : Oui"))
	assert.Equal(t, "cadre", NormalizeCategory("Cadre"))
	assert.Equal(t, "Agent de maîtrise", NormalizeCategory("Agent de maîtrise"))
}

func TestProject(t *testing.T) {
	t.Run("date d'effet", func(t *testing.T) {
		f := DateEffet("Date d'effet : 01/03/2025")
		require.NotNil(t, f)
		assert.Equal(t, "01/03/2025", f.Value)
		assert.Equal(t, lead.High, f.Confidence)

		assert.Equal(t, "01/04/2025", DateEffet("Date d'effet souhaitée : 1-4-2025").Value)

		f = DateEffet("Contrat à effet du 15/05/2025")
		require.NotNil(t, f)
		assert.Equal(t, "15/05/2025", f.Value)
		assert.Equal(t, lead.Medium, f.Confidence)
	})

	t.Run("plan", func(t *testing.T) {
		assert.Equal(t, "Confort", Plan("Formule : Confort").Value)
		assert.Nil(t, Plan("Formule : Oui"))

		lvl := CoverageLevel("Je souhaite le niveau 3/4 pour l'hospitalisation")
		require.NotNil(t, lvl)
		assert.Equal(t, "Niveau 3/4", lvl.Value)
		assert.Nil(t, CoverageLevel("aucun niveau"))
	})

	t.Run("flags", func(t *testing.T) {
		tests := []struct {
			name string
			fn   func(string) *lead.Field[bool]
			body string
			want bool
			conf lead.Confidence
		}{
			{"madelin labelled", Madelin, "Loi Madelin : Oui", true, lead.High},
			{"madelin mention", Madelin, "Contrat dans le cadre Madelin", true, lead.Medium},
			{"resiliation labelled", Resiliation, "Résiliation : Non", false, lead.High},
			{"resiliation mention", Resiliation, "Le prospect souhaite résilier son contrat", true, lead.Medium},
			{"insured labelled", CurrentlyInsured, "Actuellement assuré : Oui", true, lead.High},
			{"current insurer", CurrentlyInsured, "Assureur actuel : AXA", true, lead.High},
			{"no insurer", CurrentlyInsured, "Assureur actuel : aucun", false, lead.High},
			{"not insured mention", CurrentlyInsured, "Je n'ai pas de mutuelle", false, lead.Medium},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := tt.fn(tt.body)
				require.NotNil(t, f)
				assert.Equal(t, tt.want, f.Value)
				assert.Equal(t, tt.conf, f.Confidence)
			})
		}
		assert.Nil(t, Madelin("Pas de Madelin pour ce contrat"))
		assert.Nil(t, CurrentlyInsured("Bonjour"))
	})
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"Oui", true, true},
		{"oui, depuis 2019", true, true},
		{"NON", false, true},
		{"Aucune", false, true},
		{"peut-être", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		got, ok := ParseYesNo(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSpouse(t *testing.T) {
	t.Run("section", func(t *testing.T) {
		body := "Nom : DUPONT\n\nConjoint\nNom : MARTIN\nPrénom : Claire\nDate de naissance : 02/03/1982\nRégime : Salarié\n\nEnfant 1\nDate de naissance : 01/01/2015\n"
		s := Spouse(body)
		require.NotNil(t, s)
		assert.Equal(t, "MARTIN", s.LastName.Value)
		assert.Equal(t, "Claire", s.FirstName.Value)
		assert.Equal(t, "02/03/1982", s.BirthDate.Value)
		assert.Equal(t, RegimeSalarie, s.Regime.Value)
		assert.Equal(t, 4, s.Count())
	})

	t.Run("inline", func(t *testing.T) {
		s := Spouse("Conjoint : Claire MARTIN, née le 02/03/1982, salariée")
		require.NotNil(t, s)
		assert.Equal(t, "Claire", s.FirstName.Value)
		assert.Equal(t, "MARTIN", s.LastName.Value)
		assert.Equal(t, "02/03/1982", s.BirthDate.Value)
		assert.Equal(t, RegimeSalarie, s.Regime.Value)
	})

	t.Run("spelling variant sets civility", func(t *testing.T) {
		s := Spouse("Épouse : Claire MARTIN")
		require.NotNil(t, s)
		require.NotNil(t, s.Civility)
		assert.Equal(t, "Mme", s.Civility.Value)
		assert.Equal(t, lead.SourceInferred, s.Civility.Source)
	})

	t.Run("qualified labels", func(t *testing.T) {
		s := Spouse("Prénom du conjoint : Marie\nDate de naissance du conjoint : 04/05/1985")
		require.NotNil(t, s)
		assert.Equal(t, "Marie", s.FirstName.Value)
		assert.Equal(t, "04/05/1985", s.BirthDate.Value)
	})

	t.Run("none", func(t *testing.T) {
		assert.Nil(t, Spouse("Nom : DUPONT\nPrénom : Jean"))
	})
}

func TestChildren(t *testing.T) {
	t.Run("blocks", func(t *testing.T) {
		body := "Enfant 1\nDate de naissance : 01/01/2015\nSexe : Fille\n\nEnfant 2 : 03/04/2018 garçon\n"
		require.Equal(t, 2, ChildSlots(body))
		kids := Children(body, ChildSlots(body))
		require.Len(t, kids, 2)
		assert.Equal(t, "01/01/2015", kids[0].BirthDate.Value)
		assert.Equal(t, "F", kids[0].Gender.Value)
		assert.Equal(t, "03/04/2018", kids[1].BirthDate.Value)
		assert.Equal(t, "M", kids[1].Gender.Value)
	})

	t.Run("ordinal birth dates", func(t *testing.T) {
		body := "Date de naissance du 1er enfant : 01/01/2015\nDate de naissance du 2ème enfant : 03/04/2018"
		kids := Children(body, ChildSlots(body))
		require.Len(t, kids, 2)
		assert.Equal(t, "01/01/2015", kids[0].BirthDate.Value)
		assert.Equal(t, "03/04/2018", kids[1].BirthDate.Value)
	})

	t.Run("block date is not overwritten", func(t *testing.T) {
		body := "Enfant 1 : 01/01/2015\nDate de naissance du 1er enfant : 02/02/2016"
		kids := Children(body, MaxChildren)
		require.Len(t, kids, 1)
		assert.Equal(t, "01/01/2015", kids[0].BirthDate.Value)
	})

	t.Run("at most five", func(t *testing.T) {
		body := "Enfant 1 : 01/01/2010\nEnfant 6 : 01/01/2020"
		assert.Equal(t, MaxChildren, ChildSlots(body))
		assert.Len(t, Children(body, 9), 1)
	})

	t.Run("stated count limits slots", func(t *testing.T) {
		assert.Equal(t, 3, ChildSlots("Nombre d'enfants : 3"))
		assert.Equal(t, MaxChildren, ChildSlots("aucun enfant"))
		assert.Empty(t, Children("Nom : DUPONT", MaxChildren))
	})
}

func TestFamilyHeadings(t *testing.T) {
	first, last := FamilyHeadings("Nom : X\nConjoint\nNom : Y\nEnfant 1 : 01/01/2015\nCordialement")
	assert.Equal(t, 8, first)
	assert.Equal(t, 25, last)

	first, last = FamilyHeadings("Nom : X")
	assert.Equal(t, -1, first)
	assert.Equal(t, -1, last)

	// label lines carry a value and do not open a section
	first, last = FamilyHeadings("Nom : X\nEnfants à charge : 2\nConjoint : oui\nEmail : x@y.fr")
	assert.Equal(t, -1, first)
	assert.Equal(t, -1, last)

	first, _ = FamilyHeadings("Nom : X\nEnfants à charge : 2\nEnfants :\nEnfant 1 : 01/01/2015")
	assert.Equal(t, 30, first)
}

func TestDetectors(t *testing.T) {
	t.Run("assurprospect", func(t *testing.T) {
		all := "AssurProspect\nCoordonnées du prospect\nProjet d’assurance : santé"
		assert.Equal(t, 3, AssurProspectMarkers(all))
		assert.Equal(t, MaxScore, AssurProspectScore(all))

		two := "AssurProspect\nCoordonnées du prospect"
		assert.Equal(t, 2, AssurProspectMarkers(two))
		assert.Zero(t, AssurProspectScore(two))
	})

	t.Run("assurlead tiers", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want float64
		}{
			{"mention", "Lead transmis par AssurLead", 5},
			{"tab header", "Civilité\tNom\tPrénom\tCode postal\nM.\tDUPONT\tJean\t75001", 5},
			{"markers", "UserID : 4521\nType de besoin : Santé", 4},
			{"basic fields", "Civilité : Monsieur\nTéléphone : 0612345678\nProfession : Boulanger", 3},
			{"nothing", "Bonjour, voici la facture du mois.", 0},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, AssurLeadScore(tt.body), tt.name)
		}
	})

	t.Run("tabular", func(t *testing.T) {
		assert.True(t, IsTabular("a\tb\nc\td\ne\tf", ""))
		assert.True(t, IsTabular("", "<TABLE><tr><td>x</td></tr></TABLE>"))
		assert.False(t, IsTabular("a\tb\nc\td", ""))
	})

	t.Run("generic", func(t *testing.T) {
		full := "Nom : DUPONT\nPrénom : Jean\nEmail : jean@example.com\nTéléphone : 0612345678\n" +
			"Adresse : 12 rue de la Paix\nCode postal : 75001\nVille : Paris\n" +
			"Date de naissance : 01/02/1980\nProfession : Boulanger\nRégime : TNS\n" +
			"Date d'effet : 01/03/2025\nActuellement assuré : Oui\nFormule : Confort\n"
		g := Generic(full)
		assert.Equal(t, 2.5, g.Contact)
		assert.Equal(t, 1.5, g.Subscriber)
		assert.Equal(t, 1.5, g.Needs)
		assert.Equal(t, MaxScore, g.Total())

		contactOnly := "Nom : DUPONT\nPrénom : Jean\nEmail : jean@example.com\nTéléphone : 0612345678"
		assert.Equal(t, 1.5, GenericScore(contactOnly))
		assert.Zero(t, GenericScore("Réunion reportée à jeudi."))
	})
}

func TestCommon(t *testing.T) {
	body := "Civilité : Madame\nNom : Martin\nPrénom : Claire\nCode postal : 69003\nVille : Lyon\n" +
		"Date d'effet : 01/09/2025\nLoi Madelin : Non"
	b := Common(body)
	assert.Equal(t, "Mme", b.Subscriber.Civility.Value)
	assert.Equal(t, "MARTIN", b.Subscriber.LastName.Value)
	assert.Equal(t, "69", b.Subscriber.DepartmentCode.Value)
	assert.Equal(t, "LYON", b.Subscriber.City.Value)
	assert.Equal(t, "01/09/2025", b.Project.DateEffet.Value)
	assert.False(t, b.Project.Madelin.Value)
	assert.Nil(t, b.Subscriber.Email)
	assert.Nil(t, b.Project.Plan)
}
