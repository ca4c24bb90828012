package rules

import (
	"regexp"
	"time"
)

// ElevationKeywords, TrafficKeywords and FlightControlAxes are the
// data-driven filter tables spec §9 calls for ("special cases live in
// tables the function consults"). The concrete keyword sets are PSX
// network keywords that carry, respectively, ATC-elevation-injection
// data, TCAS/traffic data, and the rudder/aileron/elevator flight-control
// axes. These well-known defaults are fixed here; no config key extends
// them.
var (
	ElevationKeywords = map[string]bool{
		"Qi198": true, // gear-pin / ground-elevation injection channel
	}

	TrafficKeywords = map[string]bool{
		"Qs119": true, // TCAS/traffic string channel
	}

	FlightControlAxes = map[string]bool{
		"Qi193": true, // aileron axis
	}
)

// BACARSIngressKeyword and GearPinKeyword are ported from
// original_source/router/frankenrouter/rules.py's hard-coded special
// cases (SPEC_FULL.md §3).
const (
	BACARSIngressKeyword = "Qs119"
	GearPinKeyword        = "Qi191"
)

var (
	bacarsDisplayName    = regexp.MustCompile(`(?i)BACARS`)
	psxSoundsDisplayName = regexp.MustCompile(`(?i)PSX Sound`)
)

const (
	bacarsIngressWindow = 15 * time.Second
	gearPinWindow        = 2 * time.Second
)

// nameCleanupRule shortens a client-provided display name to a canonical
// short form, ported from rules.py's handle_name.
type nameCleanupRule struct {
	Match *regexp.Regexp
	Short string
}

var nameCleanupTable = []nameCleanupRule{
	{regexp.MustCompile(`(?i)^PSX\.NET EFB`), "EFB"},
	{regexp.MustCompile(`(?i)^PSX Sounds`), "PSX Sounds"},
	{regexp.MustCompile(`(?i)^MSFS Router`), "MSFS Router"},
	{regexp.MustCompile(`(?i)^BACARS:`), "BACARS"},
	{regexp.MustCompile(`(?i)^VPLG:`), "vPilot"},
	{regexp.MustCompile(`(?i)FRANKEN\.PY`), "frankenrouter"},
}

// CleanDisplayName applies the name cleanup table to a client-provided
// display name (from name=ID:NAME), falling back to the name unchanged.
func CleanDisplayName(raw string) string {
	for _, rule := range nameCleanupTable {
		if rule.Match.MatchString(raw) {
			return rule.Short
		}
	}
	return raw
}

// IsFrankenrouterPeer detects the ".*:FRANKEN.PY frankenrouter" peer
// signature rules.py's handle_name uses to flag a connection as another
// router rather than a normal client, per spec §4.5 ("A connection is
// declared peer when ... the first line contains
// name=...FRANKEN.PY frankenrouter...").
func IsFrankenrouterPeer(raw string) bool {
	return regexp.MustCompile(`(?i)FRANKEN\.PY.*frankenrouter`).MatchString(raw)
}

// lexiconKeywordPattern matches the dynamically-learned lexicon block:
// Ls*/Lh*/Li* keys upstream teaches the router over the session, per
// variables.py's is_psx_keyword. There is no literal "lexicon" keyword
// on the wire; the name only ever labels this whole prefixed family.
var lexiconKeywordPattern = regexp.MustCompile(`^L[shi]`)

// IsLexiconKeyword reports whether key belongs to the lexicon block that
// is replayed only during a client's welcome sequence (spec §4.3 step 4)
// rather than forwarded individually as it arrives from upstream.
func IsLexiconKeyword(key string) bool {
	return lexiconKeywordPattern.MatchString(key)
}
