// Package config loads and validates frankenrouter's TOML configuration
// file, per spec §6.
package config

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/aerowinx/frankenrouter/access"
)

// checkTypes is the enumerated set of valid [[check]].type values, per
// original_source's _RouterConfigCheck.
var checkTypes = map[string]bool{
	"is_frankenrouter": true,
	"name_regexp":      true,
}

// Identity is the [identity] section.
type Identity struct {
	Simulator  string `toml:"simulator"`
	Router     string `toml:"router"`
	StopMinded bool   `toml:"stop_minded"`
}

// Listen is the [listen] section.
type Listen struct {
	Port        int `toml:"port"`
	RestAPIPort int `toml:"rest_api_port"`
}

// Upstream is one [[upstream]] table.
type Upstream struct {
	Default  bool   `toml:"default"`
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
}

// Log is the [log] section.
type Log struct {
	Traffic             bool   `toml:"traffic"`
	Directory           string `toml:"directory"`
	TrafficMaxSize      int64  `toml:"traffic_max_size"`
	TrafficKeepVersions int    `toml:"traffic_keep_versions"`
	OutputMaxSize       int64  `toml:"output_max_size"`
	OutputKeepVersions  int    `toml:"output_keep_versions"`
}

// PSX is the [psx] section.
type PSX struct {
	VariablesPath          string `toml:"variables_path"`
	FilterElevation        bool   `toml:"filter_elevation"`
	FilterTraffic          bool   `toml:"filter_traffic"`
	FilterFlightControls   bool   `toml:"filter_flight_controls"`
}

// Access is one [[access]] table. Order in the TOML file is the
// evaluation order, per spec §4.6 ("first-match-wins").
type Access struct {
	DisplayName   string   `toml:"display_name"`
	MatchIPv4     []string `toml:"match_ipv4"`
	MatchPassword string   `toml:"match_password"`
	Level         string   `toml:"level"`
}

// Check is one [[check]] table (spec §6's connection sanity checks).
type Check struct {
	Type     string `toml:"type"`
	Regexp   string `toml:"regexp"`
	LimitMin int    `toml:"limit_min"`
	LimitMax int    `toml:"limit_max"`
	Comment  string `toml:"comment"`
}

// Performance is the [performance] section's warning thresholds.
type Performance struct {
	WriteBufferWarnBytes   int64 `toml:"write_buffer_warn_bytes"`
	QueueTimeWarnMillis    int64 `toml:"queue_time_warn_millis"`
	TotalDelayWarnMillis   int64 `toml:"total_delay_warn_millis"`
	MonitorDelayWarnMillis int64 `toml:"monitor_delay_warn_millis"`
	FRDPRTTWarnMillis      int64 `toml:"frdp_rtt_warn_millis"`
}

// Config is the top-level TOML document, per spec §6.
type Config struct {
	Identity    Identity      `toml:"identity"`
	Listen      Listen        `toml:"listen"`
	Upstreams   []Upstream    `toml:"upstream"`
	Log         Log           `toml:"log"`
	PSX         PSX           `toml:"psx"`
	Access      []Access      `toml:"access"`
	Checks      []Check       `toml:"check"`
	Performance Performance   `toml:"performance"`
}

// Load parses and validates the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects a config that would fail at runtime in a way that's
// cheaper to catch at startup, per spec §7 ("Invalid CIDR ... Fail at
// startup with a specific message").
func (c *Config) Validate() error {
	if c.Identity.Router == "" {
		return fmt.Errorf("config: [identity].router is required")
	}
	if c.Listen.Port == 0 {
		return fmt.Errorf("config: [listen].port is required")
	}
	for i, a := range c.Access {
		switch access.Level(a.Level) {
		case access.LevelBlocked, access.LevelObserver, access.LevelFull:
		default:
			return fmt.Errorf("config: [[access]] entry %d (%s): unknown level %q", i, a.DisplayName, a.Level)
		}
	}
	for i, u := range c.Upstreams {
		if u.Host == "" || u.Port == 0 {
			return fmt.Errorf("config: [[upstream]] entry %d (%s): host and port are required", i, u.Name)
		}
	}
	for i, chk := range c.Checks {
		if !checkTypes[chk.Type] {
			return fmt.Errorf("config: [[check]] entry %d (%s): unknown type %q", i, chk.Comment, chk.Type)
		}
		if chk.Regexp != "" {
			if _, err := regexp.Compile(chk.Regexp); err != nil {
				return fmt.Errorf("config: [[check]] entry %d (%s): invalid regexp %q: %w", i, chk.Comment, chk.Regexp, err)
			}
		}
	}
	return nil
}

// AccessRules compiles the [[access]] tables into access.Rule values, in
// declared order.
func (c *Config) AccessRules() []*access.Rule {
	out := make([]*access.Rule, 0, len(c.Access))
	for _, a := range c.Access {
		out = append(out, &access.Rule{
			DisplayName:   a.DisplayName,
			MatchIPv4:     a.MatchIPv4,
			MatchPassword: a.MatchPassword,
			Level:         access.Level(a.Level),
		})
	}
	return out
}

// DefaultUpstream returns the [[upstream]] table marked default, or the
// first one if none is, per spec §6.
func (c *Config) DefaultUpstream() (Upstream, bool) {
	if len(c.Upstreams) == 0 {
		return Upstream{}, false
	}
	for _, u := range c.Upstreams {
		if u.Default {
			return u, true
		}
	}
	return c.Upstreams[0], true
}
