package activation

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/reports"
)

// ApprovalError is the one error-returning gate in the system: real
// activation flows must stop on it, and the denial is never swallowed.
type ApprovalError struct {
	Reasons []string
}

func (e *ApprovalError) Error() string {
	return "ACTIVATION_NOT_APPROVED: " + strings.Join(e.Reasons, "; ")
}

// ApprovalRequest carries the operator-supplied approval inputs.
type ApprovalRequest struct {
	Token             string
	PolicyVersionPin  string
	AuditTrailEnabled bool
}

// Approve checks every approval condition and collects all failures
// rather than stopping at the first, so the operator sees the full
// list. On denial it emits a guardrail ops event and returns
// *ApprovalError.
func Approve(cfg Config, req ApprovalRequest, ix reports.Index, activePolicyVersion string, log zerolog.Logger) error {
	var reasons []string

	if !cfg.ApprovalAllowed {
		reasons = append(reasons, "ACTIVATION_ALLOWED is not set")
	}
	if cfg.ApprovalToken == "" {
		reasons = append(reasons, "ACTIVATION_APPROVAL_TOKEN is not configured")
	} else if req.Token != cfg.ApprovalToken {
		reasons = append(reasons, "approval token mismatch")
	}
	if req.PolicyVersionPin == "" {
		reasons = append(reasons, "policy version pin missing")
	} else if req.PolicyVersionPin != activePolicyVersion {
		reasons = append(reasons, "policy version pin does not match active policy "+activePolicyVersion)
	}
	if got := ix.OfflineEvalRuns(); got < cfg.MinOfflineEvalRuns {
		reasons = append(reasons, "insufficient offline eval runs on record")
	}
	if !req.AuditTrailEnabled && !ix.HasActivationHistory() {
		reasons = append(reasons, "no audit trail and no prior activation runs")
	}

	if len(reasons) == 0 {
		return nil
	}

	log.Error().
		Strs("reasons", reasons).
		Str("policy_version_pin", req.PolicyVersionPin).
		Msg("activation approval denied")
	return &ApprovalError{Reasons: reasons}
}
