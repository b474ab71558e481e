package patients

import (
	"time"

	"github.com/google/uuid"
)

// Patient types. NHIA patients are the ones the authorization gate cares
// about; the rest proceed without codes.
const (
	TypeRegular      = "regular"
	TypeNHIA         = "nhia"
	TypeRetainership = "retainership"
	TypePrivate      = "private"
	TypeInsurance    = "insurance"
	TypeCorporate    = "corporate"
	TypeStaff        = "staff"
	TypeDependant    = "dependant"
	TypeEmergency    = "emergency"
)

var ValidPatientTypes = map[string]bool{
	TypeRegular: true, TypeNHIA: true, TypeRetainership: true,
	TypePrivate: true, TypeInsurance: true, TypeCorporate: true,
	TypeStaff: true, TypeDependant: true, TypeEmergency: true,
}

// Patient maps to the patients table. PatientID is the stable 10-digit
// human-facing identifier; NHIA patients get identifiers starting with
// '4', everyone else '0'.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    string     `db:"patient_id" json:"patient_id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	OtherNames   *string    `db:"other_names" json:"other_names,omitempty"`
	DateOfBirth  *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender       string     `db:"gender" json:"gender"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Address      *string    `db:"address" json:"address,omitempty"`
	PatientType  string     `db:"patient_type" json:"patient_type"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	NHIA         *NHIAInfo  `db:"-" json:"nhia_info,omitempty"`
	Retainership *RetainershipInfo `db:"-" json:"retainership_info,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// NHIAInfo is the optional insurance satellite attached to NHIA patients.
type NHIAInfo struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_uuid" json:"patient_uuid"`
	RegNumber string    `db:"reg_number" json:"reg_number"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RetainershipInfo is the optional corporate-coverage satellite.
type RetainershipInfo struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_uuid" json:"patient_uuid"`
	RegNumber string    `db:"reg_number" json:"reg_number"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InsuranceClassification is the single classification the authorization
// gate consults. A patient counts as NHIA only when typed nhia AND the
// satellite registration is present and active.
func (p *Patient) InsuranceClassification() string {
	if p.PatientType == TypeNHIA && p.NHIA != nil && p.NHIA.IsActive {
		return TypeNHIA
	}
	if p.PatientType == TypeRetainership && p.Retainership != nil && p.Retainership.IsActive {
		return TypeRetainership
	}
	if p.PatientType == TypeNHIA || p.PatientType == TypeRetainership {
		return TypeRegular
	}
	return p.PatientType
}

// IsNHIA reports whether the gate should require authorization codes for
// this patient.
func (p *Patient) IsNHIA() bool {
	return p.InsuranceClassification() == TypeNHIA
}

func (p *Patient) FullName() string {
	if p.OtherNames != nil && *p.OtherNames != "" {
		return p.FirstName + " " + *p.OtherNames + " " + p.LastName
	}
	return p.FirstName + " " + p.LastName
}
