// Package envelope wraps every ingested payload with provenance and
// timing metadata plus tamper-evident checksums. Envelopes are immutable
// once built; late-data replays produce a new envelope that references
// the original through the scenario block and keeps payload_checksum.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oddsline/matchcore/internal/canon"
)

// SchemaVersion is the current envelope schema.
const SchemaVersion = 2

// SnapshotType identifies how the payload was captured.
type SnapshotType string

const (
	SnapshotRecorded   SnapshotType = "recorded"
	SnapshotLiveShadow SnapshotType = "live_shadow"
)

// SourceClass classifies the origin of a payload.
type SourceClass string

const (
	SourceRecorded   SourceClass = "RECORDED"
	SourceLiveShadow SourceClass = "LIVE_SHADOW"
	SourceEditorial  SourceClass = "EDITORIAL"
	SourceUnknown    SourceClass = "UNKNOWN"
)

// ReliabilityTier grades a source.
type ReliabilityTier string

const (
	TierHigh ReliabilityTier = "HIGH"
	TierMed  ReliabilityTier = "MED"
	TierLow  ReliabilityTier = "LOW"
)

// Source describes the origin of the wrapped payload.
type Source struct {
	Class           SourceClass     `json:"class"`
	Name            string          `json:"name"`
	Ref             string          `json:"ref,omitempty"`
	ReliabilityTier ReliabilityTier `json:"reliability_tier"`
}

// Envelope is the canonical provenance wrapper. Timestamps are stored in
// the canonical +00:00 string form so the struct canonicalizes without
// special cases.
type Envelope struct {
	SnapshotID       string         `json:"snapshot_id"`
	SnapshotType     SnapshotType   `json:"snapshot_type"`
	CreatedAtUTC     string         `json:"created_at_utc"`
	ObservedAtUTC    string         `json:"observed_at_utc"`
	PayloadChecksum  string         `json:"payload_checksum"`
	Source           Source         `json:"source"`
	SchemaVersion    int            `json:"schema_version"`
	FetchStartedUTC  string         `json:"fetch_started_at_utc,omitempty"`
	FetchEndedUTC    string         `json:"fetch_ended_at_utc,omitempty"`
	LatencyMS        int64          `json:"latency_ms,omitempty"`
	EffectiveFromUTC string         `json:"effective_from_utc,omitempty"`
	ValidUntilUTC    string         `json:"expected_valid_until_utc,omitempty"`
	Scenario         map[string]any `json:"scenario,omitempty"`
	EnvelopeChecksum string         `json:"envelope_checksum,omitempty"`
}

// Stored is the v2 on-disk shape: metadata beside the raw payload.
type Stored struct {
	Metadata Envelope       `json:"metadata"`
	Payload  map[string]any `json:"payload"`
}

// PayloadChecksum computes hex(sha256(canonical(payload))). It is a
// function of the payload alone; envelope metadata never feeds it.
func PayloadChecksum(payload any) (string, error) {
	return canon.Checksum(payload)
}

// NewSnapshotID derives a stable 16-char hex id from the payload
// checksum and capture instant.
func NewSnapshotID(payloadChecksum string, createdAt time.Time) string {
	return canon.HashString(payloadChecksum + ":" + canon.Timestamp(createdAt))[:16]
}

// BuildRecorded wraps a payload captured from recorded fixtures.
func BuildRecorded(payload any, snapshotID, sourceName string, createdAt time.Time) (Envelope, error) {
	sum, err := PayloadChecksum(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: payload checksum: %w", err)
	}
	env := Envelope{
		SnapshotID:      snapshotID,
		SnapshotType:    SnapshotRecorded,
		CreatedAtUTC:    canon.Timestamp(createdAt),
		ObservedAtUTC:   canon.Timestamp(createdAt),
		PayloadChecksum: sum,
		Source: Source{
			Class:           SourceRecorded,
			Name:            sourceName,
			ReliabilityTier: TierHigh,
		},
		SchemaVersion: SchemaVersion,
	}
	return seal(env)
}

// LiveTiming carries the optional fetch timing for live-shadow captures.
type LiveTiming struct {
	FetchStarted time.Time
	FetchEnded   time.Time
	LatencyMS    int64
}

// BuildLiveShadow wraps a payload captured on the live shadow path.
func BuildLiveShadow(payload any, snapshotID, sourceName string, createdAt, observedAt time.Time, timing *LiveTiming) (Envelope, error) {
	sum, err := PayloadChecksum(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: payload checksum: %w", err)
	}
	env := Envelope{
		SnapshotID:      snapshotID,
		SnapshotType:    SnapshotLiveShadow,
		CreatedAtUTC:    canon.Timestamp(createdAt),
		ObservedAtUTC:   canon.Timestamp(observedAt),
		PayloadChecksum: sum,
		Source: Source{
			Class:           SourceLiveShadow,
			Name:            sourceName,
			ReliabilityTier: TierMed,
		},
		SchemaVersion: SchemaVersion,
	}
	if timing != nil {
		if !timing.FetchStarted.IsZero() {
			env.FetchStartedUTC = canon.Timestamp(timing.FetchStarted)
		}
		if !timing.FetchEnded.IsZero() {
			env.FetchEndedUTC = canon.Timestamp(timing.FetchEnded)
		}
		env.LatencyMS = timing.LatencyMS
	}
	return seal(env)
}

// DeriveScenario builds a replay envelope from an original, preserving
// payload_checksum and recording the derivation under scenario.
func DeriveScenario(orig Envelope, scenarioName string, observedAt time.Time) (Envelope, error) {
	derived := orig
	derived.SnapshotID = NewSnapshotID(orig.PayloadChecksum, observedAt)
	derived.ObservedAtUTC = canon.Timestamp(observedAt)
	derived.Scenario = map[string]any{
		"name":                 scenarioName,
		"original_snapshot_id": orig.SnapshotID,
	}
	derived.EnvelopeChecksum = ""
	return seal(derived)
}

// seal fills envelope_checksum over every field except itself.
func seal(env Envelope) (Envelope, error) {
	env.EnvelopeChecksum = ""
	sum, err := canon.Checksum(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: seal: %w", err)
	}
	env.EnvelopeChecksum = sum
	return env, nil
}

// Verify recomputes the envelope checksum. A missing checksum verifies
// trivially; legacy rows never carried one.
func Verify(env Envelope) (bool, error) {
	if env.EnvelopeChecksum == "" {
		return true, nil
	}
	want := env.EnvelopeChecksum
	env.EnvelopeChecksum = ""
	got, err := canon.Checksum(env)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// MissingFunc observes non-fatal parse fallbacks (e.g. legacy_no_envelope).
type MissingFunc func(reason string)

// IntegrityFailFunc observes checksum mismatches. Implementations log;
// the record is kept either way.
type IntegrityFailFunc func(snapshotID, reason string)

// legacy → v2 field renames applied during parse.
var legacyFieldRenames = map[string]string{
	"observed_at":      "observed_at_utc",
	"checksum":         "payload_checksum",
	"fetch_started_at": "fetch_started_at_utc",
	"fetch_ended_at":   "fetch_ended_at_utc",
}

// ParseStored reads a stored JSON blob in either the v2 {metadata,payload}
// shape or the legacy flat-payload shape. Legacy rows get synthesized
// recorded metadata and signal legacy_no_envelope through onMissing.
// Integrity failures are reported through onIntegrityFail and never
// discard the record. Missing optional fields never fail the parse.
func ParseStored(raw []byte, fallbackCreatedAt time.Time, onMissing MissingFunc, onIntegrityFail IntegrityFailFunc) (Envelope, map[string]any, error) {
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return Envelope{}, nil, fmt.Errorf("envelope: parse stored: %w", err)
	}

	metaRaw, hasMeta := tree["metadata"].(map[string]any)
	payload, hasPayload := tree["payload"].(map[string]any)
	if !hasMeta || !hasPayload {
		// Legacy flat payload: the whole document is the payload.
		if onMissing != nil {
			onMissing("legacy_no_envelope")
		}
		sum, err := PayloadChecksum(tree)
		if err != nil {
			return Envelope{}, nil, err
		}
		env := Envelope{
			SnapshotID:      NewSnapshotID(sum, fallbackCreatedAt),
			SnapshotType:    SnapshotRecorded,
			CreatedAtUTC:    canon.Timestamp(fallbackCreatedAt),
			ObservedAtUTC:   canon.Timestamp(fallbackCreatedAt),
			PayloadChecksum: sum,
			Source: Source{
				Class:           SourceRecorded,
				Name:            "legacy",
				ReliabilityTier: TierHigh,
			},
			SchemaVersion: 1,
		}
		return env, tree, nil
	}

	for oldName, newName := range legacyFieldRenames {
		if v, ok := metaRaw[oldName]; ok {
			if _, exists := metaRaw[newName]; !exists {
				metaRaw[newName] = v
			}
			delete(metaRaw, oldName)
		}
	}

	metaBytes, err := json.Marshal(metaRaw)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("envelope: remarshal metadata: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(metaBytes, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("envelope: decode metadata: %w", err)
	}

	if env.CreatedAtUTC == "" {
		env.CreatedAtUTC = canon.Timestamp(fallbackCreatedAt)
		if onMissing != nil {
			onMissing("missing_created_at")
		}
	}
	// Conservative fallback: absent observation time reads as no delay.
	if env.ObservedAtUTC == "" {
		env.ObservedAtUTC = env.CreatedAtUTC
		if onMissing != nil {
			onMissing("missing_observed_at")
		}
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = 1
	}
	if env.Source.Class == "" {
		env.Source.Class = SourceUnknown
	}

	if env.EnvelopeChecksum != "" {
		ok, verr := Verify(env)
		if verr != nil {
			ok = false
		}
		if !ok && onIntegrityFail != nil {
			onIntegrityFail(env.SnapshotID, "envelope_checksum_mismatch")
		}
	}
	return env, payload, nil
}
