package approval

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Band is one step of the amount-tier ladder. A nil Max is unbounded.
type Band struct {
	Max   *decimal.Decimal
	Roles []string
}

// Ladder maps expense amounts to the roles that must approve them. Bands are
// kept in ascending order of Max with the unbounded band, if any, last.
type Ladder struct {
	bands []Band
}

// NewLadder validates and orders bands.
func NewLadder(bands []Band) (Ladder, error) {
	if len(bands) == 0 {
		return Ladder{}, fmt.Errorf("%w: ladder has no bands", ErrInvalidRuleConfiguration)
	}
	out := make([]Band, len(bands))
	copy(out, bands)

	for i, b := range out {
		if len(b.Roles) == 0 {
			return Ladder{}, fmt.Errorf("%w: ladder band %d has no roles", ErrInvalidRuleConfiguration, i)
		}
		if b.Max == nil && i != len(out)-1 {
			return Ladder{}, fmt.Errorf("%w: only the last ladder band may be unbounded", ErrInvalidRuleConfiguration)
		}
		if i > 0 && b.Max != nil && !b.Max.GreaterThan(*out[i-1].Max) {
			return Ladder{}, fmt.Errorf("%w: ladder bands must ascend", ErrInvalidRuleConfiguration)
		}
	}
	return Ladder{bands: out}, nil
}

// DefaultLadder is the built-in four-band ladder.
func DefaultLadder() Ladder {
	bound := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	l, _ := NewLadder([]Band{
		{Max: bound(100), Roles: []string{"manager"}},
		{Max: bound(1000), Roles: []string{"manager", "senior_manager"}},
		{Max: bound(5000), Roles: []string{"manager", "senior_manager", "director"}},
		{Roles: []string{"manager", "senior_manager", "director", "ceo"}},
	})
	return l
}

// Band returns the first band whose Max is at least amount.
func (l Ladder) Band(amount decimal.Decimal) (Band, error) {
	bands, err := l.BandsFrom(amount)
	if err != nil {
		return Band{}, err
	}
	return bands[0], nil
}

// BandsFrom returns the band for amount followed by every higher band.
func (l Ladder) BandsFrom(amount decimal.Decimal) ([]Band, error) {
	for i, b := range l.bands {
		if b.Max == nil || b.Max.GreaterThanOrEqual(amount) {
			return append([]Band(nil), l.bands[i:]...), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAmountExceedsLimit, amount.String())
}

// Bands returns a copy of the ladder's bands.
func (l Ladder) Bands() []Band {
	return append([]Band(nil), l.bands...)
}
