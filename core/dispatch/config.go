package dispatch

import "fmt"

// Config defines the tunables of the dispatch core.
type Config struct {
	// ConcurrencyLimit sizes the admission gate bounding simultaneous visits.
	ConcurrencyLimit int `json:"concurrency_limit"`
	// SpeedCeiling is the maximum travel speed (km/h) a worker may be asked
	// to sustain to reach a point.
	SpeedCeiling float64 `json:"speed_ceiling"`
	// GoodEnough short-circuits the worker scan as soon as a candidate below
	// this speed is found. Zero disables the early exit.
	GoodEnough float64 `json:"good_enough"`
	// GiveUpKnownSeconds bounds the worker search for events with a known
	// spawn time. The effective deadline never precedes the spawn time.
	GiveUpKnownSeconds float64 `json:"give_up_known_seconds"`
	// GiveUpUnknownSeconds bounds the worker search for points with unknown
	// timing.
	GiveUpUnknownSeconds float64 `json:"give_up_unknown_seconds"`
	// SkipThresholdSeconds drops events that are overdue by more than this.
	SkipThresholdSeconds float64 `json:"skip_threshold_seconds"`
	// RedundantAfterSeconds is the staleness tolerance before an overdue
	// event found in the sighting store is classified redundant.
	RedundantAfterSeconds float64 `json:"redundant_after_seconds"`
	// VerificationCeiling pauses dispatch while the verification queue holds
	// more than this many accounts.
	VerificationCeiling int `json:"verification_ceiling"`
	// PollIntervalMS is the selector rescan interval. It trades dispatch
	// latency against scan overhead.
	PollIntervalMS int `json:"poll_interval_ms"`
	// MinimumRuntimeMinutes is how long a session must have run before the
	// stale-session timer may rotate it.
	MinimumRuntimeMinutes float64 `json:"minimum_runtime_minutes"`
	// SwapIntervalSeconds is the period of both rotation timers.
	SwapIntervalSeconds int `json:"swap_interval_seconds"`
	// RescanUnknownSeconds rate-limits refills of the mystery backlog.
	RescanUnknownSeconds int `json:"rescan_unknown_seconds"`
	// RefreshBackoffSeconds is the retry backoff after a failed spawn refresh.
	RefreshBackoffSeconds int `json:"refresh_backoff_seconds"`
	// MaxConsecutiveFaults aborts the loop once exceeded.
	MaxConsecutiveFaults int `json:"max_consecutive_faults"`
	// StatsIntervalSeconds is the stats aggregator sampling period.
	StatsIntervalSeconds int `json:"stats_interval_seconds"`
	// DrainTimeoutSeconds bounds the wait for in-flight tasks on shutdown.
	DrainTimeoutSeconds int `json:"drain_timeout_seconds"`

	Bootstrap BootstrapConfig `json:"bootstrap"`
}

// BootstrapConfig defines cold-start settings.
type BootstrapConfig struct {
	// RadiusM is the coverage circle radius of the phase-two grid.
	RadiusM float64 `json:"radius_m"`
	// StaggerMS delays consecutive phase-one task launches to avoid a
	// synchronized login storm.
	StaggerMS int `json:"stagger_ms"`
	// SettleSeconds is the pause between phase one and phase two.
	SettleSeconds int `json:"settle_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = 160
	}
	if c.SpeedCeiling == 0 {
		c.SpeedCeiling = 19.5
	}
	if c.GiveUpKnownSeconds == 0 {
		c.GiveUpKnownSeconds = 75
	}
	if c.GiveUpUnknownSeconds == 0 {
		c.GiveUpUnknownSeconds = 60
	}
	if c.SkipThresholdSeconds == 0 {
		c.SkipThresholdSeconds = 90
	}
	if c.RedundantAfterSeconds == 0 {
		c.RedundantAfterSeconds = 5
	}
	if c.VerificationCeiling == 0 {
		c.VerificationCeiling = 5
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 250
	}
	if c.MinimumRuntimeMinutes == 0 {
		c.MinimumRuntimeMinutes = 10
	}
	if c.SwapIntervalSeconds == 0 {
		c.SwapIntervalSeconds = 180
	}
	if c.RescanUnknownSeconds == 0 {
		c.RescanUnknownSeconds = 120
	}
	if c.RefreshBackoffSeconds == 0 {
		c.RefreshBackoffSeconds = 20
	}
	if c.MaxConsecutiveFaults == 0 {
		c.MaxConsecutiveFaults = 100
	}
	if c.StatsIntervalSeconds == 0 {
		c.StatsIntervalSeconds = 10
	}
	if c.DrainTimeoutSeconds == 0 {
		c.DrainTimeoutSeconds = 40
	}
	if c.Bootstrap.RadiusM == 0 {
		c.Bootstrap.RadiusM = 120
	}
	if c.Bootstrap.StaggerMS == 0 {
		c.Bootstrap.StaggerMS = 250
	}
	if c.Bootstrap.SettleSeconds == 0 {
		c.Bootstrap.SettleSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency_limit must be positive")
	}
	if c.SpeedCeiling <= 0 {
		return fmt.Errorf("speed_ceiling must be positive")
	}
	if c.GoodEnough < 0 {
		return fmt.Errorf("good_enough must not be negative")
	}
	if c.VerificationCeiling < 1 {
		return fmt.Errorf("verification_ceiling must be positive")
	}
	if c.PollIntervalMS < 1 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	return nil
}
