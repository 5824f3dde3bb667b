package carrier

import "strings"

// Customs charge classification over UPS exemption activity text. The
// negative list is consulted first so that "charges have been paid" style
// phrases never count as an outstanding charge; only then is the
// obligation-verb grid applied.
var customsNegativePhrases = []string{
	"cleared customs",
	"customs clearance complete",
	"has been paid",
	"have been paid",
	"already paid",
	"payment received",
	"payment complete",
	"collection complete",
	"settlement complete",
	"documentation has been requested",
	"paperwork has been requested",
	"additional documentation",
}

var customsChargeNouns = []string{
	"charge",
	"charges",
	"fee",
	"fees",
	"duty",
	"duties",
	"tax",
	"taxes",
	"payment",
	"brokerage",
}

var customsObligationMarkers = []string{
	"due",
	"owed",
	"required",
	"must",
	"need to be paid",
	"needs to be paid",
	"requires payment",
}

// CustomsChargeDue decides whether a UPS activity description indicates an
// outstanding customs payment. It is a secondary boolean signal carried
// alongside the main tracking status, never a replacement for it.
func CustomsChargeDue(description string) bool {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return false
	}
	if containsAny(text, customsNegativePhrases) {
		return false
	}
	if !containsAny(text, customsChargeNouns) {
		return false
	}
	return containsAny(text, customsObligationMarkers)
}
