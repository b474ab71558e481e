package nhia

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nazifia/hms/internal/domain/patients"
)

// Gate decisions.
const (
	DecisionNotRequired     = "not_required"
	DecisionValid           = "valid"
	DecisionInvalid         = "invalid"
	DecisionRequiredMissing = "required_missing"
	DecisionPendingRequest  = "pending_request"
)

// Action kinds the gate is consulted for.
const (
	ActionCreateRecord    = "create_record"
	ActionCreateOrder     = "create_order"
	ActionGenerateInvoice = "generate_invoice"
	ActionExecuteReferral = "execute_referral"
)

var (
	// ErrExpiredCode and ErrRejectedCode classify why a present code is
	// invalid.
	ErrExpiredCode  = errors.New("nhia: authorization code has expired")
	ErrRejectedCode = errors.New("nhia: authorization code was rejected")
)

// Decision is the gate's answer for one action.
type Decision struct {
	Outcome string     `json:"outcome"`
	CodeID  *uuid.UUID `json:"code_id,omitempty"`
	Message string     `json:"message"`
}

// Proceed reports whether the caller may carry out the action.
func (d Decision) Proceed() bool {
	return d.Outcome == DecisionNotRequired || d.Outcome == DecisionValid
}

// Subject is the record an action targets, as the gate sees it.
type Subject struct {
	Module   string
	RecordID uuid.UUID
	CodeID   *uuid.UUID // authorization code already attached, if any
}

// Gate decides whether an action on a subject may proceed for a patient.
// It is read-only: consuming a code is the caller's job via MarkUsed.
type Gate struct {
	svc *Service
}

func NewGate(svc *Service) *Gate {
	return &Gate{svc: svc}
}

// Evaluate applies the decision table: non-NHIA patients always proceed;
// NHIA patients need a valid attached code, and without one the outcome
// distinguishes an outstanding desk-office request from a missing one.
func (g *Gate) Evaluate(ctx context.Context, patient *patients.Patient, action string, subject Subject) (Decision, error) {
	if !patient.IsNHIA() {
		return Decision{Outcome: DecisionNotRequired, Message: "authorization not required"}, nil
	}

	if subject.CodeID != nil {
		code, err := g.svc.Get(ctx, *subject.CodeID)
		if err != nil {
			return Decision{}, err
		}
		if g.svc.IsValid(code) {
			return Decision{
				Outcome: DecisionValid,
				CodeID:  &code.ID,
				Message: "authorization code " + code.Code + " is valid",
			}, nil
		}
		msg := "authorization code " + code.Code + " is not valid"
		switch code.Status {
		case CodeExpired:
			msg = "authorization code " + code.Code + " has expired"
		case CodeRejected:
			msg = "authorization code " + code.Code + " was rejected"
		case CodeUsed:
			msg = "authorization code " + code.Code + " has already been used"
		case CodeActive:
			// active but past expiry, sweep has not run yet
			msg = "authorization code " + code.Code + " has expired"
		}
		return Decision{Outcome: DecisionInvalid, CodeID: &code.ID, Message: msg}, nil
	}

	pending, err := g.svc.HasPendingRequest(ctx, subject.Module, subject.RecordID)
	if err != nil {
		return Decision{}, err
	}
	if pending {
		return Decision{
			Outcome: DecisionPendingRequest,
			Message: "authorization has been requested and is awaiting the desk office",
		}, nil
	}
	return Decision{
		Outcome: DecisionRequiredMissing,
		Message: "authorization code required; request one from the desk office",
	}, nil
}

// RequiresAuthorization mirrors the desk-office rule: NHIA patients seen
// outside the NHIA point of care need a code; everyone else never does.
func RequiresAuthorization(patient *patients.Patient, servicePoint string) bool {
	if !patient.IsNHIA() {
		return false
	}
	return servicePoint != "nhia"
}
