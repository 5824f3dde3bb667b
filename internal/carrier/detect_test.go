package carrier_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		number string
		want   carrier.Tag
	}{
		{"ups standard", "1Z12345E1234567890", carrier.TagUPS},
		{"ups lowercase input", "1z12345e1234567890", carrier.TagUPS},
		{"royal mail", "AB123456789GB", carrier.TagRoyal},
		{"fedex 12 digits", "123456789012", carrier.TagFedEx},
		{"fedex 15 digits", "123456789012345", carrier.TagFedEx},
		{"fedex 20 digits", "12345678901234567890", carrier.TagFedEx},
		{"afs mgs prefix", "MGS12345", carrier.TagAFS},
		{"afs mgs underscore", "MGS_A1B2C3", carrier.TagAFS},
		{"afs short numeric", "1234567", carrier.TagAFS},
		{"afs 003 reference", "003123456789012", carrier.TagAFS},
		{"gls 11 digits", "12345678901", carrier.TagGLS},
		{"gls 50 prefix 13 digits", "5012345678901", carrier.TagGLS},
		{"gls 59 prefix 14 digits", "59123456789012", carrier.TagGLS},
		{"dhl 16 digits", "1234567890123456", carrier.TagDHL},
		{"dhl jv prefix", "JV123456789", carrier.TagDHL},
		{"dhl gm prefix", "GM9876543210", carrier.TagDHL},
		{"dhl 13 digits", "1234567890123", carrier.TagDHL},
		{"afs 003 longest reference", "00312345678901234", carrier.TagAFS},
		{"003 too long for any carrier", "003123456789012345", carrier.TagUnknown},
		{"empty", "", carrier.TagUnknown},
		{"whitespace", "   ", carrier.TagUnknown},
		{"letters only", "TRACKING", carrier.TagUnknown},
		{"mixed junk", "??12ab", carrier.TagUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, carrier.Detect(tc.number))
		})
	}
}

func TestDetectTrimsAndUppercases(t *testing.T) {
	t.Parallel()

	require.Equal(t, carrier.TagRoyal, carrier.Detect("  ab123456789gb  "))
}

func TestParseTagAcceptsAliases(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]carrier.Tag{
		"ups":        carrier.TagUPS,
		"Fed-Ex":     carrier.TagFedEx,
		"royal mail": carrier.TagRoyal,
		"AFS":        carrier.TagAFS,
	} {
		tag, ok := carrier.ParseTag(input)
		require.True(t, ok, input)
		require.Equal(t, want, tag)
	}

	_, ok := carrier.ParseTag("pigeon post")
	require.False(t, ok)
}
