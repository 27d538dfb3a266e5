package lead

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceFromMean(t *testing.T) {
	tests := []struct {
		mean float64
		want Confidence
	}{
		{3, High},
		{2.5, High},
		{2.49, Medium},
		{1.5, Medium},
		{1.49, Low},
		{0, Low},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceFromMean(tt.mean), "mean %v", tt.mean)
	}
}

func TestOverallConfidence(t *testing.T) {
	r := &Record{}
	assert.Equal(t, Low, r.OverallConfidence())

	r.Subscriber.LastName = Parsed("DUPONT", High, "Nom : DUPONT")
	r.Subscriber.FirstName = Parsed("Jean", High, "Prénom : Jean")
	assert.Equal(t, High, r.OverallConfidence())

	r.Project = &Project{Madelin: Flag(true, Low, "madelin")}
	r.Children = []Child{{BirthDate: Parsed("01/01/2015", Low, "")}}
	// (3+3+1+1)/4 = 2
	assert.Equal(t, Medium, r.OverallConfidence())
}

func TestFinalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Record{
		Spouse:  &Spouse{},
		Project: &Project{},
	}
	r.Subscriber.LastName = Parsed("DUPONT", High, "")
	r.Subscriber.Civility = Inferred("M.", "époux")

	r.Finalize("generic", "m1", now)

	assert.Nil(t, r.Spouse)
	assert.Nil(t, r.Project)
	require.NotNil(t, r.Children)
	assert.Empty(t, r.Children)
	assert.NotNil(t, r.Metadata.Warnings)
	assert.Equal(t, "generic", r.Metadata.ParserUsed)
	assert.Equal(t, "m1", r.Metadata.SourceMessageID)
	assert.Equal(t, now, r.Metadata.ParsingDate)
	assert.Equal(t, 2, r.Metadata.ParsedFieldsCount)
	assert.Equal(t, 0, r.Metadata.DefaultedFieldsCount)
}

func TestFinalizeKeepsPopulatedSections(t *testing.T) {
	r := &Record{
		Spouse:  &Spouse{FirstName: Parsed("Claire", High, "")},
		Project: &Project{Plan: Parsed("Santé", Medium, "")},
	}
	r.Warn("something odd")
	r.Finalize("assurlead", "m2", time.Now())

	assert.NotNil(t, r.Spouse)
	assert.NotNil(t, r.Project)
	assert.Equal(t, []string{"something odd"}, r.Metadata.Warnings)
}

func TestMessageText(t *testing.T) {
	m := Message{HTMLBody: "<p>Nom :\tDUPONT</p>"}
	assert.NotContains(t, m.Text(), "\t")
	assert.Contains(t, m.RawText(), "DUPONT")

	m = Message{Body: "Bonjour", Snippet: "Aperçu"}
	assert.Equal(t, "Aperçu", m.Preview())
	assert.Equal(t, "Bonjour", m.Text())
}
