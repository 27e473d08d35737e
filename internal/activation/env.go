// Package activation implements the layered gate between shadow
// decisions and persisted ones. All knobs arrive through environment
// variables read in one place; every other package receives a Config.
package activation

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Modes and tiers share one vocabulary.
const (
	ModeLimited  = "limited"
	ModeBurnIn   = "burn_in"
	ModeExpanded = "expanded"
)

// Batch size is hard-capped regardless of configuration.
const HardMaxMatches = 10

// Burn-in floors. The environment may tighten, never loosen.
const (
	BurnInMinConfidenceFloor = 0.85
	BurnInMaxBatch           = 3
	BurnInDefaultConnector   = "real_provider"
)

// RecentLiveShadowWindow is how many recent live-shadow runs the gate
// scans for unresolved alerts.
const RecentLiveShadowWindow = 3

// Environment variable names.
const (
	EnvLiveIOAllowed       = "LIVE_IO_ALLOWED"
	EnvLiveWritesAllowed   = "LIVE_WRITES_ALLOWED"
	EnvEnabled             = "ACTIVATION_ENABLED"
	EnvMode                = "ACTIVATION_MODE"
	EnvTier                = "ACTIVATION_TIER"
	EnvKillSwitch          = "ACTIVATION_KILL_SWITCH"
	EnvConnectors          = "ACTIVATION_CONNECTORS"
	EnvMarkets             = "ACTIVATION_MARKETS"
	EnvMaxMatches          = "ACTIVATION_MAX_MATCHES"
	EnvMinConfidence       = "ACTIVATION_MIN_CONFIDENCE"
	EnvMinConfidenceBurnIn = "ACTIVATION_MIN_CONFIDENCE_BURN_IN"
	EnvRolloutPct          = "ACTIVATION_ROLLOUT_PCT"
	EnvDailyMax            = "ACTIVATION_DAILY_MAX_ACTIVATIONS"
	EnvApprovalAllowed     = "ACTIVATION_ALLOWED"
	EnvApprovalToken       = "ACTIVATION_APPROVAL_TOKEN"
	EnvMinOfflineEvalRuns  = "MIN_OFFLINE_EVAL_RUNS"
	EnvLiveIOTimeoutSecs   = "LIVE_IO_TIMEOUT_SECONDS"
	EnvLiveIOMaxTimeouts   = "LIVE_IO_MAX_TIMEOUTS"
	EnvLiveIOMaxRateLtd    = "LIVE_IO_MAX_RATE_LIMITED"
	EnvLiveIOMaxP95MS      = "LIVE_IO_MAX_P95_MS"
)

// Config is the decoded activation environment.
type Config struct {
	LiveIOAllowed     bool
	LiveWritesAllowed bool

	Enabled    bool
	Mode       string
	Tier       string
	KillSwitch bool

	Connectors []string
	Markets    []string

	MaxMatches          int
	TierMinConfidence   float64
	BurnInMinConfidence float64
	BurnInConnector     string

	RolloutPct          float64
	DailyMaxActivations int

	ApprovalAllowed    bool
	ApprovalToken      string
	MinOfflineEvalRuns int

	LiveIOTimeout        time.Duration
	LiveIOMaxTimeouts    int
	LiveIOMaxRateLimited int
	LiveIOMaxP95MS       float64
}

// FromEnv decodes the environment into a Config. Unset knobs take
// their documented defaults; malformed numbers fall back too.
func FromEnv() Config {
	cfg := Config{
		LiveIOAllowed:       truthy(os.Getenv(EnvLiveIOAllowed)),
		LiveWritesAllowed:   truthy(os.Getenv(EnvLiveWritesAllowed)),
		Enabled:             truthy(os.Getenv(EnvEnabled)),
		Mode:                strings.ToLower(strings.TrimSpace(os.Getenv(EnvMode))),
		Tier:                strings.ToLower(strings.TrimSpace(os.Getenv(EnvTier))),
		KillSwitch:          truthy(os.Getenv(EnvKillSwitch)),
		Connectors:          splitList(os.Getenv(EnvConnectors)),
		Markets:             splitList(os.Getenv(EnvMarkets)),
		MaxMatches:          intEnv(EnvMaxMatches, HardMaxMatches),
		TierMinConfidence:   floatEnv(EnvMinConfidence, 0),
		BurnInMinConfidence: floatEnv(EnvMinConfidenceBurnIn, BurnInMinConfidenceFloor),
		BurnInConnector:     BurnInDefaultConnector,
		RolloutPct:          floatEnv(EnvRolloutPct, 100),
		DailyMaxActivations: intEnv(EnvDailyMax, 0),
		ApprovalAllowed:     truthy(os.Getenv(EnvApprovalAllowed)),
		ApprovalToken:       os.Getenv(EnvApprovalToken),
		MinOfflineEvalRuns:  intEnv(EnvMinOfflineEvalRuns, 1),

		LiveIOTimeout:        time.Duration(floatEnv(EnvLiveIOTimeoutSecs, 5) * float64(time.Second)),
		LiveIOMaxTimeouts:    intEnv(EnvLiveIOMaxTimeouts, 0),
		LiveIOMaxRateLimited: intEnv(EnvLiveIOMaxRateLtd, 0),
		LiveIOMaxP95MS:       floatEnv(EnvLiveIOMaxP95MS, 0),
	}

	if len(cfg.Markets) == 0 {
		cfg.Markets = []string{"1X2"}
	}
	if cfg.MaxMatches > HardMaxMatches || cfg.MaxMatches <= 0 {
		cfg.MaxMatches = HardMaxMatches
	}
	if cfg.BurnInMinConfidence < BurnInMinConfidenceFloor {
		cfg.BurnInMinConfidence = BurnInMinConfidenceFloor
	}
	if cfg.RolloutPct < 0 {
		cfg.RolloutPct = 0
	}
	if cfg.RolloutPct > 100 {
		cfg.RolloutPct = 100
	}
	return cfg
}

// ValidMode reports whether the configured mode is recognized.
func (c Config) ValidMode() bool {
	switch c.Mode {
	case ModeLimited, ModeBurnIn, ModeExpanded:
		return true
	}
	return false
}

func (c Config) connectorWhitelisted(name string) bool {
	if len(c.Connectors) == 0 {
		return true
	}
	for _, n := range c.Connectors {
		if n == name {
			return true
		}
	}
	return false
}

func (c Config) marketWhitelisted(market string) bool {
	for _, m := range c.Markets {
		if m == market {
			return true
		}
	}
	return false
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}
