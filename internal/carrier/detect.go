package carrier

import (
	"regexp"
	"strings"
)

// Format patterns observed per carrier. The ordering in Detect resolves known
// overlaps (numeric length ranges are shared across FedEx/GLS/DHL), so the
// table is a heuristic over observed vendor formats rather than an
// authoritative classification. Whenever a shipment record already names a
// carrier, that recorded value wins over re-detection.
var (
	upsPattern      = regexp.MustCompile(`^1Z[A-Z0-9]{16}$`)
	afsPrefixed     = regexp.MustCompile(`^MGS_?[A-Z0-9]+$`)
	afsNumeric      = regexp.MustCompile(`^[0-9]{6,8}$`)
	afsReference    = regexp.MustCompile(`^003[0-9]{11,14}$`)
	royalPattern    = regexp.MustCompile(`^[A-Z]{2}[0-9]{9}GB$`)
	fedexPattern    = regexp.MustCompile(`^([0-9]{12}|[0-9]{15}|[0-9]{20})$`)
	glsNumeric      = regexp.MustCompile(`^[0-9]{10,15}$`)
	dhlLongNumeric  = regexp.MustCompile(`^[0-9]{16,30}$`)
	dhlPrefixed     = regexp.MustCompile(`^(GM|RX|JV|CV|TV|JX)[A-Z0-9]*$`)
	dhlShortNumeric = regexp.MustCompile(`^[0-9]{13,15}$`)
)

// Detect maps a tracking number to a carrier tag. It is total and
// deterministic: any input yields exactly one tag, defaulting to UNKNOWN.
// The precedence order below must not be changed casually; AFS internal
// references would otherwise collide with the broader DHL numeric range, and
// 12/15 digit numbers belong to FedEx before GLS or DHL may claim them.
func Detect(trackingNumber string) Tag {
	value := strings.ToUpper(strings.TrimSpace(trackingNumber))
	if value == "" {
		return TagUnknown
	}
	switch {
	case upsPattern.MatchString(value):
		return TagUPS
	case afsPrefixed.MatchString(value), afsNumeric.MatchString(value), afsReference.MatchString(value):
		return TagAFS
	case royalPattern.MatchString(value):
		return TagRoyal
	case fedexPattern.MatchString(value):
		return TagFedEx
	case isGLSNumber(value):
		return TagGLS
	case isDHLNumber(value):
		return TagDHL
	}
	return TagUnknown
}

func isGLSNumber(value string) bool {
	if !glsNumeric.MatchString(value) {
		return false
	}
	if len(value) == 11 || len(value) == 12 {
		return true
	}
	return strings.HasPrefix(value, "50") || strings.HasPrefix(value, "59")
}

func isDHLNumber(value string) bool {
	if dhlLongNumeric.MatchString(value) && !strings.HasPrefix(value, "003") {
		return true
	}
	if dhlPrefixed.MatchString(value) {
		return true
	}
	if dhlShortNumeric.MatchString(value) && !strings.HasPrefix(value, "50") && !strings.HasPrefix(value, "59") {
		return true
	}
	return false
}
