package carrier

import (
	"context"
	"fmt"
)

// RoyalMailClient exists so that detected Royal Mail numbers fail with a
// typed unsupported-carrier error instead of an unknown-carrier one; the
// platform has no Royal Mail API integration.
type RoyalMailClient struct{}

func (c *RoyalMailClient) Tag() Tag { return TagRoyal }

// Track always rejects: Royal Mail is recognised but not integrated.
func (c *RoyalMailClient) Track(_ context.Context, trackingNumber string) (Result, error) {
	return Result{}, fmt.Errorf("%w: ROYAL (%s)", ErrUnsupported, trackingNumber)
}
