package carrier_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

func TestCustomsChargeDue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		description string
		want        bool
	}{
		{"duty required", "Import duty payment is required before delivery", true},
		{"fees owed", "Brokerage fees are owed for this shipment", true},
		{"tax must be paid", "Customs taxes must be settled by the receiver", true},
		{"charges need to be paid", "Outstanding charges need to be paid", true},
		{"already paid", "Customs charges have been paid", false},
		{"payment received", "Duty payment received, package released", false},
		{"cleared customs", "Package cleared customs and is on its way", false},
		{"documentation request", "Additional documentation has been requested for customs charges", false},
		{"plain transit", "Departed from facility", false},
		{"noun without obligation", "Customs brokerage processing", false},
		{"obligation without noun", "Signature required on delivery", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, carrier.CustomsChargeDue(tc.description))
		})
	}
}
