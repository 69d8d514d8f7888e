package place

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a rejected input value. Field names the offending
// field and Code carries the machine-readable error code for the HTTP layer.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with an explicit code.
func NewValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// Allowed value sets keyed by field name. Query-side "type" additionally
// accepts "all" as a no-filter sentinel; stored place_type does not.
var enumFields = map[string]map[string]struct{}{
	"type":         setOf(TypeCurrent, TypeHistorical, TypeAll),
	"place_type":   setOf(TypeCurrent, TypeHistorical),
	"category":     setOf("bar", "cafe", "library", "community_center", "bookstore", "park", "art_space", "other"),
	"status":       setOf(StatusPending, StatusApproved, StatusRejected),
	"still_exists": setOf("yes", "no", "partial", "unknown"),
	"significance": setOf("local", "regional", "national", "international"),
}

// enumCodes maps field names to the error code reported on rejection.
var enumCodes = map[string]string{
	"type":         "INVALID_TYPE",
	"place_type":   "INVALID_TYPE",
	"category":     "INVALID_CATEGORY",
	"status":       "INVALID_STATUS",
	"still_exists": "INVALID_STILL_EXISTS",
	"significance": "INVALID_SIGNIFICANCE",
}

func setOf(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// ValidateEnum checks value against the allowed set for field. An empty
// value is accepted and means "absent / no filter"; callers that require the
// field must check presence separately.
func ValidateEnum(field, value string) error {
	if value == "" {
		return nil
	}
	allowed, ok := enumFields[field]
	if !ok {
		return fmt.Errorf("unknown enum field %q", field)
	}
	if _, ok := allowed[value]; !ok {
		values := make([]string, 0, len(allowed))
		for v := range allowed {
			values = append(values, v)
		}
		sort.Strings(values)
		return NewValidationError(field, enumCodes[field],
			fmt.Sprintf("%s must be one of [%s]", field, strings.Join(values, ", ")))
	}
	return nil
}

// ValidatePoint checks that a location is a well-formed GeoJSON point with
// longitude in [-180, 180] and latitude in [-90, 90].
func ValidatePoint(loc *GeoPoint) error {
	if loc == nil {
		return NewValidationError("location", "INVALID_COORDS", "location must be an object")
	}
	if loc.Type != "Point" {
		return NewValidationError("location", "INVALID_COORDS", "location.type must be Point")
	}
	if len(loc.Coordinates) != 2 {
		return NewValidationError("location", "INVALID_COORDS", "location.coordinates must be [lon, lat]")
	}
	lon, lat := loc.Coordinates[0], loc.Coordinates[1]
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return NewValidationError("location", "INVALID_COORDS", "location.coordinates out of range")
	}
	return nil
}

// ValidateLatLon checks a bare lat/lon pair, used for query parameters.
func ValidateLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return NewValidationError("lat", "INVALID_COORDS", "lat/lon out of range")
	}
	return nil
}
