// Package rules implements the router's forwarding decision function: a
// pure function from (message, source, session/filter state) to a set of
// destinations and an optional rewrite, per spec §4.2.
package rules

import (
	"time"

	"github.com/aerowinx/frankenrouter/protocol"
)

// Action is the outcome of a routing decision, ported from
// original_source's RulesAction enum.
type Action int

const (
	// ActionDrop discards the message with no forwarding and no reply.
	ActionDrop Action = iota
	// ActionDisconnect closes the source session.
	ActionDisconnect
	// ActionUpstreamOnly forwards only to the upstream session.
	ActionUpstreamOnly
	// ActionNormal forwards per the computed Destinations.
	ActionNormal
	// ActionFilter drops the message but increments a filter counter,
	// distinct from ActionDrop so callers can update stats (spec §4.2
	// rule 3, "Filtered keyword: dropped; counted").
	ActionFilter
	// ActionBangReply replies to the sender with a synthesised cache
	// dump instead of forwarding (spec §4.2 rule 4, "bang").
	ActionBangReply
	// ActionExit replies "exit", waits, then closes (spec §4.2 rule 4).
	ActionExit
)

// Destination identifies where a message (or its rewrite) should go.
type Destination int

const (
	DestUpstream Destination = iota
	DestOtherClients
	DestPeerRoutersOnly
	DestWaitingClients
	DestSender
)

// Code is a granular decision tag, ported from original_source's
// RulesCode enum. Action is the main control flow; the router also reads
// Code for demand bookkeeping (CodeDemand), pure-START welcome tracking
// (CodePureStart) and the per-filter counters.
type Code string

const (
	CodeFRDP            Code = "frdp"
	CodeDemand          Code = "demand"
	CodeNameUpdate      Code = "name-update"
	CodeClientForward   Code = "client-forward"
	CodeWelcomeOnly     Code = "welcome-only"
	CodePureStart       Code = "pure-start"
	CodeFilteredElev    Code = "filtered-elevation"
	CodeFilteredTraffic Code = "filtered-traffic"
	CodeFilteredAxis    Code = "filtered-flight-control"
	CodeUpstreamForward Code = "upstream-forward"
	CodeBang            Code = "bang"
	CodeStart           Code = "start"
	CodeExit            Code = "exit"
	CodeAgain           Code = "again"
	CodeNolongToggle    Code = "nolong-toggle"
	CodeLoad            Code = "load"
	CodeIngressFiltered Code = "ingress-filtered"
)

// Decision is the output of Decide.
type Decision struct {
	Action       Action
	Destinations []Destination
	// Rewrite, when non-nil, replaces the message forwarded to
	// Destinations; the original is used otherwise.
	Rewrite protocol.Message
	Code    Code
	// UpdateCache is true when the caller should Put the keyword/value
	// into the cache before forwarding.
	UpdateCache bool
}

// Source identifies who sent the message being routed.
type Source int

const (
	SourceUpstream Source = iota
	SourceClient
)

// ClientView is the subset of client session state the rules function
// needs to make a decision, kept intentionally narrow so Decide stays a
// pure function of its arguments (spec §9, "keep the rules function pure
// and data-driven").
type ClientView struct {
	ID                  int64
	DisplayName         string
	IsPeerRouter         bool
	Nolong              bool
	WaitingForStart     bool
	ConnectedAt         time.Time
	LastBang            time.Time
	AccessObserverOnly  bool
}

// Filters mirrors the config-driven filter flags of spec §4.2/§6.
type Filters struct {
	Elevation      bool
	Traffic        bool
	FlightControls bool
}

// Context bundles everything Decide needs beyond the message itself.
type Context struct {
	Source Source
	Sender *ClientView
	Cat    *protocol.Catalog
	Filters Filters
	Now    time.Time
}

// Decide implements spec §4.2's rule list, in order, with its stated
// tie-breaks: "when the same keyword would be both filtered and cached,
// filter wins" and "all clients excludes the sending session".
func Decide(msg protocol.Message, ctx Context) Decision {
	if msg == nil {
		return Decision{Action: ActionDrop, Code: "empty-line"}
	}

	if protocol.IsFRDPLine(msg) {
		return Decision{Action: ActionDrop, Code: CodeFRDP}
	}

	if kv, ok := msg.(*protocol.KeyValueMessage); ok {
		if ctx.Source == SourceClient {
			return decideClientKeyValue(kv, ctx)
		}
		return decideUpstreamKeyValue(kv, ctx)
	}

	sig := msg.(*protocol.SignalMessage)
	if ctx.Source == SourceClient {
		return decideClientSignal(sig, ctx)
	}
	return decideUpstreamSignal(sig, ctx)
}

func decideClientKeyValue(kv *protocol.KeyValueMessage, ctx Context) Decision {
	// demand= is exempt from the observer write restriction: an
	// observer still needs to be able to ask for keywords upstream
	// isn't currently sending it.
	if kv.Key == "demand" {
		return Decision{
			Action:       ActionUpstreamOnly,
			Destinations: []Destination{DestUpstream},
			Code:         CodeDemand,
		}
	}

	if ctx.Sender != nil && ctx.Sender.AccessObserverOnly {
		return Decision{Action: ActionDrop, Code: "observer-write-dropped"}
	}

	switch kv.Key {
	case "name":
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestPeerRoutersOnly},
			Code:         CodeNameUpdate,
		}
	}

	if bacarsIngressFiltered(kv, ctx) {
		return Decision{Action: ActionFilter, Code: CodeIngressFiltered}
	}

	return Decision{
		Action:       ActionNormal,
		Destinations: []Destination{DestUpstream, DestOtherClients},
		Code:         CodeClientForward,
	}
}

func decideUpstreamKeyValue(kv *protocol.KeyValueMessage, ctx Context) Decision {
	switch kv.Key {
	case "id", "version", "layout", "metar":
		return Decision{Action: ActionDrop, UpdateCache: true, Code: CodeWelcomeOnly}
	}
	if IsLexiconKeyword(kv.Key) {
		return Decision{Action: ActionDrop, UpdateCache: true, Code: CodeWelcomeOnly}
	}

	mode := ctx.Cat.ModeOf(kv.Key)
	alsoECON := ctx.Cat.IsAlsoECON(kv.Key)

	if mode == protocol.ModeStart && !alsoECON {
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestPeerRoutersOnly, DestWaitingClients},
			Code:         CodePureStart,
		}
	}

	if filtered, code := filteredKeyword(kv.Key, ctx.Filters); filtered {
		return Decision{Action: ActionFilter, Code: code}
	}

	if gearPinFiltered(kv, ctx) {
		return Decision{Action: ActionFilter, Code: CodeIngressFiltered}
	}

	updateCache := !(mode == protocol.ModeDelta && !alsoECON)

	return Decision{
		Action:       ActionNormal,
		Destinations: []Destination{DestOtherClients},
		UpdateCache:  updateCache,
		Code:         CodeUpstreamForward,
	}
}

func decideClientSignal(sig *protocol.SignalMessage, ctx Context) Decision {
	switch sig.Name {
	case "bang":
		return Decision{Action: ActionBangReply, Code: CodeBang}
	case "start":
		return Decision{
			Action:       ActionUpstreamOnly,
			Destinations: []Destination{DestUpstream},
			Code:         CodeStart,
		}
	case "exit":
		return Decision{Action: ActionExit, Code: CodeExit}
	case "again":
		return Decision{
			Action:       ActionUpstreamOnly,
			Destinations: []Destination{DestUpstream},
			Code:         CodeAgain,
		}
	case "nolong":
		return Decision{Action: ActionDrop, Code: CodeNolongToggle}
	case "pleaseBeSoKindAndQuit":
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestOtherClients},
			Code:         "pbskaq",
		}
	default:
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestUpstream, DestOtherClients},
			Code:         CodeClientForward,
		}
	}
}

func decideUpstreamSignal(sig *protocol.SignalMessage, ctx Context) Decision {
	switch sig.Name {
	case "load1", "load2", "load3":
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestOtherClients},
			Code:         CodeLoad,
		}
	default:
		return Decision{
			Action:       ActionNormal,
			Destinations: []Destination{DestOtherClients},
			Code:         CodeUpstreamForward,
		}
	}
}

// filteredKeyword applies the elevation/traffic/flight-control filters,
// per spec §4.2 rule 3 and §9's "special cases live in tables" guidance.
func filteredKeyword(keyword string, f Filters) (bool, Code) {
	if f.Elevation && ElevationKeywords[keyword] {
		return true, CodeFilteredElev
	}
	if f.Traffic && TrafficKeywords[keyword] {
		return true, CodeFilteredTraffic
	}
	if f.FlightControls && FlightControlAxes[keyword] {
		return true, CodeFilteredAxis
	}
	return false, ""
}

// bacarsIngressFiltered ports rules.py's 15-second BACARS/Qs119 ingress
// filter (SPEC_FULL.md §3).
func bacarsIngressFiltered(kv *protocol.KeyValueMessage, ctx Context) bool {
	if kv.Key != BACARSIngressKeyword || ctx.Sender == nil {
		return false
	}
	if !bacarsDisplayName.MatchString(ctx.Sender.DisplayName) {
		return false
	}
	return ctx.Now.Sub(ctx.Sender.ConnectedAt) < bacarsIngressWindow
}

// gearPinFiltered ports rules.py's 2-second post-bang Qi191 filter
// (SPEC_FULL.md §3).
func gearPinFiltered(kv *protocol.KeyValueMessage, ctx Context) bool {
	if kv.Key != GearPinKeyword || ctx.Sender == nil {
		return false
	}
	if !psxSoundsDisplayName.MatchString(ctx.Sender.DisplayName) {
		return false
	}
	if ctx.Sender.LastBang.IsZero() {
		return false
	}
	return ctx.Now.Sub(ctx.Sender.LastBang) < gearPinWindow
}
