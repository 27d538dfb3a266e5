package inbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leadmail/leadmail/internal/allowlist"
	"github.com/leadmail/leadmail/internal/extract"
	"github.com/leadmail/leadmail/internal/lead"
	"github.com/leadmail/leadmail/internal/text"
)

// LeadThreshold is the content score from which a message is a lead
const LeadThreshold = 2.0

// Method tells which stage decided a classification
type Method string

const (
	MethodKnownSender Method = "known_sender" // sender is on the allowlist
	MethodDelivery    Method = "delivery"     // bounce or automatic reply
	MethodContent     Method = "content"      // content detectors
)

// Detector names, in the order they are tried
const (
	DetectorAssurProspect = "assurprospect"
	DetectorAssurLead     = "assurlead"
	DetectorGeneric       = "generic"
)

// Classification is the verdict for one message
type Classification struct {
	MessageID string   `json:"messageId"`
	IsLead    bool     `json:"isLead"`
	Reasons   []string `json:"reasons"`
	Score     float64  `json:"score"`
	Method    Method   `json:"method"`
	Detector  string   `json:"detector,omitempty"`
}

var (
	// Bounce/undeliverable indicators
	bouncePatterns = []regexp.Regexp{
		*regexp.MustCompile(`(?i)delivery\s+(to\s+.+\s+)?(has\s+)?failed`),
		*regexp.MustCompile(`(?i)undeliverable`),
		*regexp.MustCompile(`(?i)delivery\s+status\s+notification`),
		*regexp.MustCompile(`(?i)returned\s+mail`),
		*regexp.MustCompile(`(?i)mail\s+delivery\s+failed`),
		*regexp.MustCompile(`(?i)message\s+(could\s+)?not\s+(be\s+)?delivered`),
		*regexp.MustCompile(`(?i)permanent\s+(failure|error)`),
		*regexp.MustCompile(`(?i)user\s+unknown`),
		*regexp.MustCompile(`(?i)no\s+such\s+user`),
		*regexp.MustCompile(`(?i)non\s+remis`),
		*regexp.MustCompile(`(?i)[ée]chec\s+de\s+(la\s+)?(remise|distribution)`),
		*regexp.MustCompile(`(?i)adresse\s+(introuvable|inconnue|invalide)`),
		*regexp.MustCompile(`(?i)n'a\s+pas\s+pu\s+[êe]tre\s+(remis|distribu[ée])`),
		*regexp.MustCompile(`(?i)550\s+.*\s+(rejected|unknown|not\s+found)`),
	}

	// Automatic replies, matched on the subject only
	autoReplySubjects = []regexp.Regexp{
		*regexp.MustCompile(`(?i)^automatic\s+reply`),
		*regexp.MustCompile(`(?i)^auto[\s-]?(reply|response)`),
		*regexp.MustCompile(`(?i)^out\s+of\s+office`),
		*regexp.MustCompile(`(?i)^r[ée]ponse\s+automatique`),
		*regexp.MustCompile(`(?i)^absence\s*:`),
		*regexp.MustCompile(`(?i)^absente?\s*:`),
		*regexp.MustCompile(`(?i)^absente?\s+du\s+bureau`),
	}

	// Senders that indicate a bounce email
	bounceSenders = []string{
		"mailer-daemon",
		"postmaster",
		"mail delivery system",
		"mail delivery subsystem",
		"mailerdaemon",
		"mailsystem",
	}
)

// Classify decides whether msg is a lead. A known sender wins outright;
// otherwise delivery notices are discarded and the content detectors run in
// order, the first non-zero score deciding. known is never modified.
func Classify(msg lead.Message, known []allowlist.Sender) Classification {
	c := Classification{MessageID: msg.ID, Reasons: []string{}}

	for _, s := range known {
		if s.Matches(msg.From) {
			c.IsLead = true
			c.Method = MethodKnownSender
			c.Score = float64(s.Score())
			c.Reasons = append(c.Reasons, "known sender: "+s.Pattern)
			return c
		}
	}

	content := ClassificationText(msg)

	if reason, ok := deliveryNotice(msg, content); ok {
		c.Method = MethodDelivery
		c.Reasons = append(c.Reasons, reason)
		return c
	}

	c.Method = MethodContent
	detectors := []struct {
		name  string
		score func(string) float64
	}{
		{DetectorAssurProspect, extract.AssurProspectScore},
		{DetectorAssurLead, extract.AssurLeadScore},
		{DetectorGeneric, extract.GenericScore},
	}
	for _, d := range detectors {
		if score := d.score(content); score > 0 {
			c.Score = score
			c.Detector = d.name
			break
		}
	}
	c.IsLead = c.Score >= LeadThreshold
	c.Reasons = append(c.Reasons, fmt.Sprintf("content score %.1f (threshold %.1f)", c.Score, LeadThreshold))
	return c
}

// ClassificationText is the subject followed by the snippet, or the body
// when there is no snippet. Tabs are kept for the table detectors.
func ClassificationText(msg lead.Message) string {
	body := msg.RawText()
	if strings.TrimSpace(msg.Snippet) != "" {
		body = text.CleanKeepTabs(msg.Snippet, false)
	}
	return msg.Subject + "\n" + body
}

// deliveryNotice reports bounces and automatic replies
func deliveryNotice(msg lead.Message, content string) (string, bool) {
	subject := strings.TrimSpace(msg.Subject)
	for _, pattern := range autoReplySubjects {
		if pattern.MatchString(subject) {
			return "automatic reply", true
		}
	}

	fromLower := strings.ToLower(msg.From)
	fromNameLower := strings.ToLower(msg.FromName)
	isBounceSource := false
	for _, sender := range bounceSenders {
		if strings.Contains(fromLower, sender) || strings.Contains(fromNameLower, sender) {
			isBounceSource = true
			break
		}
	}

	bounceScore := 0
	for _, pattern := range bouncePatterns {
		if pattern.MatchString(subject) {
			bounceScore += 2 // subject match is strong signal
		}
		if pattern.MatchString(content) {
			bounceScore++
		}
	}

	if (isBounceSource && bounceScore > 0) || bounceScore >= 3 {
		return "delivery failure notification", true
	}
	return "", false
}

// ClassifyBatch classifies multiple messages
func ClassifyBatch(msgs []lead.Message, known []allowlist.Sender) []Classification {
	results := make([]Classification, len(msgs))
	for i, m := range msgs {
		results[i] = Classify(m, known)
	}
	return results
}

// Summary counts classifications by outcome
type Summary struct {
	Total       int `json:"total"`
	Leads       int `json:"leads"`
	KnownSender int `json:"knownSender"`
	Content     int `json:"content"`
	Delivery    int `json:"delivery"`
	Rejected    int `json:"rejected"`
}

// Summarize generates a summary of classifications
func Summarize(results []Classification) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Method == MethodDelivery:
			s.Delivery++
		case !r.IsLead:
			s.Rejected++
		case r.Method == MethodKnownSender:
			s.KnownSender++
		default:
			s.Content++
		}
		if r.IsLead {
			s.Leads++
		}
	}
	return s
}
