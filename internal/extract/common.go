package extract

import "github.com/leadmail/leadmail/internal/lead"

// Bundle is the output of the shared extraction pass
type Bundle struct {
	Subscriber lead.Subscriber
	Project    lead.Project
}

// Common runs every subscriber and project primitive over body. Dialects use
// it as their base and then override or complete individual fields.
func Common(body string) Bundle {
	postal := PostalCode(body)
	sub := lead.Subscriber{
		Civility:       Civility(body),
		LastName:       LastName(body),
		FirstName:      FirstName(body),
		BirthDate:      BirthDate(body),
		Email:          Email(body),
		Telephone:      Telephone(body),
		Address:        Address(body),
		PostalCode:     postal,
		City:           City(body),
		DepartmentCode: DepartmentCode(postal),
		Regime:         Regime(body),
		Category:       Category(body),
		Status:         Status(body),
		Profession:     Profession(body),
	}
	proj := lead.Project{
		DateEffet:        DateEffet(body),
		Plan:             Plan(body),
		Madelin:          Madelin(body),
		Resiliation:      Resiliation(body),
		CurrentlyInsured: CurrentlyInsured(body),
	}
	return Bundle{Subscriber: sub, Project: proj}
}
