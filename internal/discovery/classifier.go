package discovery

import (
	"regexp"
	"strings"

	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// Glyphs recognised by the classifier.
const (
	MarkerGlyph     = "💊"
	NewListingGlyph = "🆕"
	PumpGlyph       = "🚀"
)

// PumpLinkPrefix is the link prefix that carries the token address.
const PumpLinkPrefix = "https://pump.fun/"

// Classifier turns listing-bot messages into mention events.
// It is pure and safe for concurrent use.
type Classifier struct {
	// mentionPattern matches the whole message:
	// "[🆕|🚀]💊 **[<name>](https://pump.fun/<address>) [<stats>] - <ticker>/<chain>**[ [⬆︎](<link>)]"
	mentionPattern *regexp.Regexp
	// statsPattern matches "<marketCap>/<percentage>%" inside the stats bracket.
	statsPattern *regexp.Regexp
}

// NewClassifier creates a new Classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		mentionPattern: regexp.MustCompile(
			`^(` + NewListingGlyph + `|` + PumpGlyph + `)?` + MarkerGlyph +
				`\s*\*\*\[(.*?)\]\((https://pump\.fun/([a-zA-Z0-9]+))\)\s*\[(.*?)\]\s*-\s*(.*?)/(\w+)\*\*` +
				`(\s*\[⬆\x{FE0E}?\].*)?$`),
		statsPattern: regexp.MustCompile(`(\d+(?:\.\d+)?[KMB]?)/(\d+(?:\.\d+)?[KMB]?)%`),
	}
}

var defaultClassifier = NewClassifier()

// Classify parses a message with the default classifier.
func Classify(content string) (*domain.MentionEvent, bool) {
	return defaultClassifier.Classify(content)
}

// Classify extracts a mention event from content.
// Returns false if the message lacks the marker glyph or does not match the structure.
// A stats bracket that cannot be parsed yields an event without stats.
func (c *Classifier) Classify(content string) (*domain.MentionEvent, bool) {
	if !strings.Contains(content, MarkerGlyph) {
		return nil, false
	}

	m := c.mentionPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return nil, false
	}

	// Groups: 1 lead glyph, 2 name, 3 link, 4 address, 5 stats, 6 ticker, 7 chain, 8 trailing link
	event := &domain.MentionEvent{
		TokenName:      strings.TrimSpace(m[2]),
		Ticker:         strings.TrimSpace(m[6]),
		Chain:          strings.TrimSpace(m[7]),
		TokenAddress:   m[4],
		PumpLink:       PumpLinkPrefix + m[4],
		UpdateKind:     domain.UpdateKindUpdate,
		HasDiscordLink: m[8] != "",
	}
	if m[1] == NewListingGlyph {
		event.UpdateKind = domain.UpdateKindNewListing
	}

	if sm := c.statsPattern.FindStringSubmatch(m[5]); sm != nil && (sm[1] != "" || sm[2] != "") {
		event.Stats = &domain.Stats{MarketCap: sm[1], Percentage: sm[2]}
	}

	return event, true
}
