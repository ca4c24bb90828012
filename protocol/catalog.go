package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NetworkMode is the catalogue-declared publication behavior of a keyword,
// per spec §3.
type NetworkMode int

const (
	ModeUnknown NetworkMode = iota
	ModeContinuous
	ModeECON
	ModeDelta
	ModeBigMom
	ModeStart
	ModeDemand
)

func (m NetworkMode) String() string {
	switch m {
	case ModeContinuous:
		return "CONTINUOUS"
	case ModeECON:
		return "ECON"
	case ModeDelta:
		return "DELTA"
	case ModeBigMom:
		return "BIGMOM"
	case ModeStart:
		return "START"
	case ModeDemand:
		return "DEMAND"
	default:
		return "UNKNOWN"
	}
}

// catalogModes are the raw Mode= values recognised in a Variables.txt file,
// ported verbatim from original_source's NETWORK_MODES.
var catalogModes = map[string]bool{
	"ECON": true, "DELTA": true, "START": true, "XECON": true,
	"DEMAND": true, "XDELTA": true, "MCPMOM": true, "BIGMOM": true,
	"GUAMOM4": true, "GUAMOM2": true, "CDUKEYB": true, "RCP": true,
	"ACP": true, "MIXED": true,
}

// projectMode maps a catalogue Mode= string onto spec's six-mode forwarding
// model (spec §2's CONTINUOUS/ECON/DELTA/BIGMOM/START/DEMAND).
func projectMode(raw string) NetworkMode {
	switch raw {
	case "ECON", "GUAMOM4", "GUAMOM2", "CDUKEYB", "RCP", "ACP", "MIXED":
		return ModeECON
	case "DELTA", "XDELTA":
		return ModeDelta
	case "BIGMOM", "MCPMOM":
		return ModeBigMom
	case "START", "XECON":
		return ModeStart
	case "DEMAND":
		return ModeDemand
	default:
		return ModeECON
	}
}

// DefaultNolongKeywords is the fixed nolong keyword set, ported from
// original_source's ADDITIONAL_MODES table. Resolves the "does nolong
// exclude a fixed set" open question (DESIGN.md #1).
var DefaultNolongKeywords = []string{
	"Qs375", "Qs376", "Qs377",
	"Qs407", "Qs408", "Qs409", "Qs410", "Qs411", "Qs412",
}

// additionalECONKeywords behave as ECON in addition to their catalogue
// mode, ported from ADDITIONAL_MODES.
var additionalECONKeywords = map[string]bool{
	"Qs493": true,
	"Qi208": true,
}

// Entry is one parsed catalogue record.
type Entry struct {
	Keyword  string
	Name     string
	Mode     NetworkMode
	RawMode  string
	Min, Max int
	AlsoECON bool
}

// Catalog is the static, read-only-after-load keyword -> mode lookup, plus
// the declared order needed for welcome replay (spec §4.1).
type Catalog struct {
	order   []string
	entries map[string]*Entry
	nolong  map[string]bool
}

// ParseCatalog parses a PSX Variables.txt-format definition, per
// original_source/router/frankenrouter/variables.py.
func ParseCatalog(data string, nolongOverride []string) (*Catalog, error) {
	cat := &Catalog{
		entries: map[string]*Entry{},
		nolong:  map[string]bool{},
	}

	nolongSet := DefaultNolongKeywords
	if nolongOverride != nil {
		nolongSet = nolongOverride
	}
	for _, k := range nolongSet {
		cat.nolong[k] = true
	}

	var current *Entry

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r\n \t")
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}

		for _, elem := range strings.Split(line, ";") {
			elem = strings.TrimSpace(elem)
			if elem == "" {
				continue
			}

			kv := strings.SplitN(elem, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("protocol: invalid catalogue line: %q", line)
			}
			key, value := kv[0], kv[1]

			if strings.HasPrefix(key, "Q") {
				value = strings.ReplaceAll(value, `"`, "")
				if _, exists := cat.entries[key]; exists {
					return nil, fmt.Errorf("protocol: duplicate keyword %q in catalogue", key)
				}
				current = &Entry{Keyword: key, Name: value}
				cat.entries[key] = current
				cat.order = append(cat.order, key)
				continue
			}

			if current == nil {
				return nil, fmt.Errorf("protocol: attribute %q with no preceding keyword", key)
			}

			switch key {
			case "Mode":
				if !catalogModes[value] {
					return nil, fmt.Errorf("protocol: unknown network mode %q", value)
				}
				current.RawMode = value
				current.Mode = projectMode(value)
				if additionalECONKeywords[current.Keyword] {
					current.AlsoECON = true
				}
			case "Min":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("protocol: invalid Min in %q: %w", line, err)
				}
				current.Min = n
			case "Max":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("protocol: invalid Max in %q: %w", line, err)
				}
				current.Max = n
			}
		}
	}

	for k, e := range cat.entries {
		if e.RawMode == "" {
			return nil, fmt.Errorf("protocol: catalogue entry %q missing Mode", k)
		}
	}

	return cat, nil
}

// ModeOf returns the forwarding-relevant network mode for keyword, per
// spec §4.1 ("Mode defaults to ECON for forwarding purposes when unknown").
func (c *Catalog) ModeOf(keyword string) NetworkMode {
	if e, ok := c.entries[keyword]; ok {
		return e.Mode
	}
	return ModeECON
}

// IsAlsoECON reports whether keyword is cacheable/replayable in addition to
// its primary mode (spec §3's "some [START] keywords are also ECON").
func (c *Catalog) IsAlsoECON(keyword string) bool {
	if e, ok := c.entries[keyword]; ok {
		return e.AlsoECON
	}
	return false
}

// IsNolong reports whether keyword belongs to the (overridable) nolong set.
func (c *Catalog) IsNolong(keyword string) bool {
	return c.nolong[keyword]
}

// KeywordOrder returns the catalogue's declared order, used for welcome
// replay and the bang reply (spec §4.1, §8 "in catalogue order").
func (c *Catalog) KeywordOrder() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// KeywordsWithMode returns every catalogue keyword whose catalogue Mode=
// value equals raw (e.g. "START"), ported from
// Variables.keywords_with_mode. The additional-ECON table and the nolong
// set are not consulted.
func (c *Catalog) KeywordsWithMode(raw string) []string {
	var out []string
	for _, k := range c.order {
		e := c.entries[k]
		if e.RawMode == raw {
			out = append(out, k)
		}
	}
	return out
}

// psxBareSignals is the fixed allow-list of non-Q/L bare signal tokens,
// ported from Variables.is_psx_keyword, including "keepalive" (not PSX
// itself, but sent by SimStack Switch).
var psxBareSignals = map[string]bool{
	"exit": true, "cduC": true, "cduL": true, "cduR": true,
	"bang": true, "name": true, "id": true, "start": true,
	"lexicon": true, "again": true, "gid": true, "version": true,
	"layout": true, "metar": true, "demand": true,
	"load1": true, "load2": true, "load3": true, "keepalive": true,
}

// IsPSXKeyword reports whether keyword looks like a real PSX network
// keyword (as opposed to noise), ported from Variables.is_psx_keyword.
func IsPSXKeyword(keyword string) bool {
	if len(keyword) < 2 {
		return false
	}
	switch keyword[0] {
	case 'Q':
		switch keyword[1] {
		case 'h', 's', 'd', 'i':
			return true
		}
	case 'L':
		switch keyword[1] {
		case 's', 'i', 'h':
			return true
		}
	}
	return psxBareSignals[keyword]
}

var naturalSortSplit = regexp.MustCompile(`([0-9]+)`)

// NaturalSort sorts PSX keywords the way PSX emits them numerically,
// ported from Variables.sort_psx_keywords.
func NaturalSort(keywords []string) []string {
	out := make([]string, len(keywords))
	copy(out, keywords)

	key := func(s string) []interface{} {
		parts := naturalSortSplit.Split(s, -1)
		nums := naturalSortSplit.FindAllString(s, -1)

		var result []interface{}
		ni := 0
		for i, p := range parts {
			if p != "" {
				result = append(result, strings.ToLower(p))
			}
			if ni < len(nums) && i < len(parts)-1 {
				n, err := strconv.Atoi(nums[ni])
				if err == nil {
					result = append(result, n)
				}
				ni++
			}
		}
		return result
	}

	// simple insertion sort over the composite key to avoid pulling in a
	// comparator-generics dependency for a handful of catalogue-sized lists
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && lessNaturalKey(key(out[j]), key(out[j-1])); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func lessNaturalKey(a, b []interface{}) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		as, aIsStr := a[i].(string)
		bs, bIsStr := b[i].(string)
		if aIsStr && bIsStr {
			if as != bs {
				return as < bs
			}
			continue
		}
		an, aIsNum := a[i].(int)
		bn, bIsNum := b[i].(int)
		if aIsNum && bIsNum {
			if an != bn {
				return an < bn
			}
			continue
		}
		// mixed types at the same position: numbers sort before strings
		return aIsNum
	}
	return len(a) < len(b)
}
