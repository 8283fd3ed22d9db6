// Package approval records per-party sign-off on contracts and detects quorum.
package approval

import (
	"time"

	"settlement-engine/internal/common/crypto"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
)

// Verifier checks a party's detached signature over a payload.
type Verifier interface {
	Verify(partyID string, payload []byte, signatureB64 string) error
}

// Outcome says what Record did to the contract.
type Outcome int

const (
	// Unchanged means the same approval was already on record.
	Unchanged Outcome = iota
	// Recorded means a new approval was added but quorum is still open.
	Recorded
	// QuorumReached means the new approval completed the party set.
	QuorumReached
)

type Tracker struct {
	verifier Verifier
	logger   logger.Logger
}

func NewTracker(v Verifier, log logger.Logger) *Tracker {
	return &Tracker{
		verifier: v,
		logger:   logger.ForComponent(log, "approval-tracker"),
	}
}

// Digest is the payload parties sign for c.
func Digest(c *models.Contract) ([]byte, error) {
	return crypto.CanonicalDigest(c.SigningView())
}

// Verify checks that partyID belongs to c and that signature covers c's
// signing view. It reads only deploy-time fields, so callers may run it
// without holding the contract lock.
func (t *Tracker) Verify(c *models.Contract, partyID, signature string) error {
	if !c.HasParty(partyID) {
		return apperrors.NewUnknownPartyError(c.ID, partyID)
	}
	if signature == "" {
		return apperrors.NewInvalidSignatureError(partyID, "signature is empty")
	}
	digest, err := Digest(c)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if err := t.verifier.Verify(partyID, digest, signature); err != nil {
		t.logger.Warn("Signature rejected", map[string]interface{}{
			"contractId": c.ID,
			"partyId":    partyID,
			"error":      err,
		})
		return apperrors.NewInvalidSignatureError(partyID, err.Error())
	}
	return nil
}

// Record adds partyID's approval to c. The signature must already be
// verified. Re-approving with the same signature is a no-op in any
// non-terminal state; a different signature for an approved party is
// rejected.
func (t *Tracker) Record(c *models.Contract, partyID, signature string, at time.Time) (Outcome, error) {
	if !c.HasParty(partyID) {
		return Unchanged, apperrors.NewUnknownPartyError(c.ID, partyID)
	}

	existing, approved := c.Approvals[partyID]
	if approved && existing.Signature == signature && !c.State.IsTerminal() {
		return Unchanged, nil
	}
	if c.State != models.ContractStatePendingApproval {
		return Unchanged, apperrors.NewInvalidStateError("approve", string(c.State)).
			WithMetadata("contractId", c.ID)
	}
	if approved {
		return Unchanged, apperrors.NewValidationError("party " + partyID + " already approved with a different signature").
			WithMetadata("contractId", c.ID)
	}

	if c.Approvals == nil {
		c.Approvals = make(map[string]models.Approval, len(c.Parties))
	}
	c.Approvals[partyID] = models.Approval{Signature: signature, Timestamp: at}
	if c.QuorumReached() {
		return QuorumReached, nil
	}
	return Recorded, nil
}

// Pending lists the parties that have not approved yet, in party order.
func Pending(c *models.Contract) []string {
	var out []string
	for _, p := range c.Parties {
		if _, ok := c.Approvals[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
