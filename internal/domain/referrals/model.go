package referrals

import (
	"time"

	"github.com/google/uuid"
)

// Referral statuses. pending→accepted→completed is the happy path;
// cancelled is reachable from pending and accepted.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Authorization statuses, orthogonal to the referral status.
const (
	AuthNotRequired = "not_required"
	AuthRequired    = "required"
	AuthPending     = "pending"
	AuthAuthorized  = "authorized"
	AuthRejected    = "rejected"
)

// Dashboard buckets for a receiving department.
const (
	BucketReadyToAccept         = "ready_to_accept"
	BucketAwaitingAuthorization = "awaiting_authorization"
	BucketRejectedAuthorization = "rejected_authorization"
	BucketUnderCare             = "under_care"
)

// Referral is an inter-department handoff. Two orthogonal axes: the
// referral status and the authorization status; together they decide
// which dashboard bucket the referral lands in.
type Referral struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	ReferringDoctor       string     `db:"referring_doctor" json:"referring_doctor"`
	ReferredToDepartment  string     `db:"referred_to_department" json:"referred_to_department"`
	AssignedDoctor        *string    `db:"assigned_doctor" json:"assigned_doctor,omitempty"`
	ReferralDate          time.Time  `db:"referral_date" json:"referral_date"`
	Reason                string     `db:"reason" json:"reason"`
	Notes                 string     `db:"notes" json:"notes"`
	Status                string     `db:"status" json:"status"`
	RequiresAuthorization bool       `db:"requires_authorization" json:"requires_authorization"`
	AuthorizationStatus   string     `db:"authorization_status" json:"authorization_status"`
	AuthorizationCodeID   *uuid.UUID `db:"authorization_code_id" json:"authorization_code_id,omitempty"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// ReadyToAccept reports whether the receiving department may take the
// patient under care.
func (r *Referral) ReadyToAccept() bool {
	return r.Status == StatusPending &&
		(r.AuthorizationStatus == AuthAuthorized || r.AuthorizationStatus == AuthNotRequired)
}

// Bucket places the referral on the department dashboard, or "" for
// completed/cancelled referrals which active dashboards exclude.
func (r *Referral) Bucket() string {
	switch {
	case r.Status == StatusAccepted:
		return BucketUnderCare
	case r.Status != StatusPending:
		return ""
	case r.AuthorizationStatus == AuthAuthorized || r.AuthorizationStatus == AuthNotRequired:
		return BucketReadyToAccept
	case r.AuthorizationStatus == AuthRejected:
		return BucketRejectedAuthorization
	case r.RequiresAuthorization:
		return BucketAwaitingAuthorization
	default:
		return ""
	}
}

// Dashboard is the four-bucket categorized view for one department.
type Dashboard struct {
	ReadyToAccept         []*Referral `json:"ready_to_accept"`
	AwaitingAuthorization []*Referral `json:"awaiting_authorization"`
	RejectedAuthorization []*Referral `json:"rejected_authorization"`
	UnderCare             []*Referral `json:"under_care"`
}
