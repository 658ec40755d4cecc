package enums

import "fmt"

// FacilityType distinguishes requesting facilities from central stores.
type FacilityType string

const (
	FacilityTypeFacility     FacilityType = "facility"
	FacilityTypeCentralStore FacilityType = "central_store"
)

var validFacilityTypes = []FacilityType{
	FacilityTypeFacility,
	FacilityTypeCentralStore,
}

// IsValid reports whether the value is a known FacilityType.
func (f FacilityType) IsValid() bool {
	for _, candidate := range validFacilityTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFacilityType converts raw input into a FacilityType.
func ParseFacilityType(value string) (FacilityType, error) {
	for _, candidate := range validFacilityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid facility type %q", value)
}
