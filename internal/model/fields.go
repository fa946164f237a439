// Package model defines the artifact and domain types for the fieldproof
// extraction pipeline, plus the single authoritative registry of supported
// field keys. Every consumer (routing, schema resolution, heuristics,
// excerpt building) reads keys, types, aliases and ordering from here so the
// tables cannot drift apart.
package model

// FieldKey identifies one of the supported extraction targets.
type FieldKey string

const (
	KeyFullName          FieldKey = "full_name"
	KeyDOB               FieldKey = "dob"
	KeyPhone             FieldKey = "phone"
	KeyAddress           FieldKey = "address"
	KeyInsuranceMemberID FieldKey = "insurance_member_id"
	KeyAllergies         FieldKey = "allergies"
	KeyMedications       FieldKey = "medications"
)

// FieldType describes how a field's value is normalized and verified.
type FieldType string

const (
	TypeString       FieldType = "string"
	TypeDate         FieldType = "date"
	TypePhone        FieldType = "phone"
	TypeStringOrList FieldType = "string_or_list"
)

// FieldOrder is the canonical processing order for supported fields.
// Fallback schemas and max-field capping both follow this order.
var FieldOrder = []FieldKey{
	KeyFullName,
	KeyDOB,
	KeyPhone,
	KeyAddress,
	KeyInsuranceMemberID,
	KeyAllergies,
	KeyMedications,
}

// IsSupported reports whether k is one of the supported field keys.
func IsSupported(k FieldKey) bool {
	switch k {
	case KeyFullName, KeyDOB, KeyPhone, KeyAddress, KeyInsuranceMemberID, KeyAllergies, KeyMedications:
		return true
	}
	return false
}

// TypeOf returns the fixed type for a supported key. The key→type mapping is
// not user-configurable; schema resolution always overrides whatever type a
// caller supplied with this table.
func TypeOf(k FieldKey) (FieldType, bool) {
	switch k {
	case KeyFullName:
		return TypeString, true
	case KeyDOB:
		return TypeDate, true
	case KeyPhone:
		return TypePhone, true
	case KeyAddress:
		return TypeString, true
	case KeyInsuranceMemberID:
		return TypeString, true
	case KeyAllergies:
		return TypeStringOrList, true
	case KeyMedications:
		return TypeStringOrList, true
	}
	return "", false
}

// Aliases returns the alias terms for a key, used by routing queries,
// excerpt keyword selection and form-template field matching.
func Aliases(k FieldKey) []string {
	switch k {
	case KeyFullName:
		return []string{"full_name", "name", "patient_name"}
	case KeyDOB:
		return []string{"dob", "date_of_birth", "birthdate"}
	case KeyPhone:
		return []string{"phone", "mobile", "telephone"}
	case KeyAddress:
		return []string{"address", "street"}
	case KeyInsuranceMemberID:
		return []string{"insurance_member_id", "member_id", "policy", "insurance_id"}
	case KeyAllergies:
		return []string{"allergies", "allergy"}
	case KeyMedications:
		return []string{"medications", "meds"}
	}
	return nil
}
