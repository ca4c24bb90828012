package router

import (
	"github.com/aerowinx/frankenrouter/access"
	"github.com/aerowinx/frankenrouter/rules"
)

// rebuildAccessList recompiles the access.List from the configured base
// rules with the runtime blocklist prepended, so an operator-added block
// always outranks the static configuration (spec §6's blocklist
// endpoints exist precisely to react to a live incident faster than a
// config reload).
func (r *Router) rebuildAccessList() error {
	r.accessMu.Lock()
	defer r.accessMu.Unlock()

	combined := make([]*access.Rule, 0, len(r.blocklist)+len(r.baseRules))
	for _, b := range r.blocklist {
		combined = append(combined, &access.Rule{
			DisplayName: b.DisplayName,
			MatchIPv4:   []string{b.MatchIPv4},
			Level:       access.LevelBlocked,
		})
	}
	combined = append(combined, r.baseRules...)

	list, err := access.NewList(combined)
	if err != nil {
		return err
	}
	r.accessList.Store(list)
	return nil
}

func (r *Router) currentAccessList() *access.List {
	return r.accessList.Load().(*access.List)
}

func (r *Router) currentFilters() rules.Filters {
	r.filtersMu.Lock()
	defer r.filtersMu.Unlock()
	return r.filters
}

func (r *Router) setFilter(name string, enabled bool) error {
	r.filtersMu.Lock()
	defer r.filtersMu.Unlock()
	switch name {
	case "elevation":
		r.filters.Elevation = enabled
	case "traffic":
		r.filters.Traffic = enabled
	case "flight_controls":
		r.filters.FlightControls = enabled
	default:
		return &unknownFilterError{name: name}
	}
	return nil
}

type unknownFilterError struct{ name string }

func (e *unknownFilterError) Error() string { return "router: unknown filter " + e.name }
