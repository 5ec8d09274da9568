package paytable

import (
	"fmt"
	"math/big"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	MinSpots = 1
	MaxSpots = 10
)

// Paytable maps (spot count, match count) to a payout multiplier on the base
// wager unit. Immutable once published for a round; a changed table gets a
// new version string.
type Paytable struct {
	Version     string
	BaseUnit    decimal.Decimal
	Multipliers map[int]map[int]decimal.Decimal
}

// Multiplier returns the payout multiplier for spotCount picks with
// matchCount hits. Combinations absent from the table pay zero.
func (pt *Paytable) Multiplier(spotCount, matchCount int) (decimal.Decimal, error) {
	if spotCount < MinSpots || spotCount > MaxSpots {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidSpotCount, spotCount)
	}
	if matchCount < 0 || matchCount > spotCount {
		return decimal.Zero, fmt.Errorf("%w: %d > %d", ErrInvalidMatchCount, matchCount, spotCount)
	}
	row, ok := pt.Multipliers[spotCount]
	if !ok {
		return decimal.Zero, nil
	}
	return row[matchCount], nil
}

// Payout scales the table multiplier by wagerAmount/BaseUnit and rounds to
// the currency minor unit. Rounding rule: half away from zero to 2 decimal
// places, applied here and nowhere else, so displayed and settled payouts
// cannot drift.
func (pt *Paytable) Payout(spotCount, matchCount int, wagerAmount decimal.Decimal) (decimal.Decimal, error) {
	mult, err := pt.Multiplier(spotCount, matchCount)
	if err != nil {
		return decimal.Zero, err
	}
	if mult.IsZero() {
		return decimal.Zero, nil
	}
	return wagerAmount.Div(pt.BaseUnit).Mul(mult).Round(2), nil
}

// ExpectedRTP returns the expected return-to-player fraction for a spot
// count: sum over match counts of probability * multiplier. Exact rational
// math throughout, rendered as a decimal with 8 places. Certification
// reporting only, never on the settlement path.
func (pt *Paytable) ExpectedRTP(spotCount, poolSize, drawSize int) (decimal.Decimal, error) {
	if spotCount < MinSpots || spotCount > MaxSpots {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidSpotCount, spotCount)
	}

	sum := new(big.Rat)
	for match := 0; match <= spotCount; match++ {
		mult, err := pt.Multiplier(spotCount, match)
		if err != nil {
			return decimal.Zero, err
		}
		if mult.IsZero() {
			continue
		}
		p, err := Probability(spotCount, match, poolSize, drawSize)
		if err != nil {
			return decimal.Zero, err
		}
		sum.Add(sum, new(big.Rat).Mul(p, mult.Rat()))
	}
	return decimal.NewFromBigInt(sum.Num(), 0).
		DivRound(decimal.NewFromBigInt(sum.Denom(), 0), 8), nil
}

// rawPaytable is the YAML shape; multipliers are strings so they parse as
// exact decimals rather than floats.
type rawPaytable struct {
	Version     string                 `yaml:"version"`
	BaseUnit    string                 `yaml:"base_unit"`
	Multipliers map[int]map[int]string `yaml:"multipliers"`
}

// Load reads a paytable from a YAML file.
func Load(path string) (*Paytable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawPaytable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse paytable %s: %w", path, err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawPaytable) (*Paytable, error) {
	baseUnit, err := decimal.NewFromString(raw.BaseUnit)
	if err != nil || baseUnit.Sign() <= 0 {
		return nil, fmt.Errorf("invalid base unit %q", raw.BaseUnit)
	}

	pt := &Paytable{
		Version:     raw.Version,
		BaseUnit:    baseUnit,
		Multipliers: make(map[int]map[int]decimal.Decimal, len(raw.Multipliers)),
	}
	for spots, row := range raw.Multipliers {
		if spots < MinSpots || spots > MaxSpots {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSpotCount, spots)
		}
		converted := make(map[int]decimal.Decimal, len(row))
		for matches, s := range row {
			if matches < 0 || matches > spots {
				return nil, fmt.Errorf("%w: %d > %d", ErrInvalidMatchCount, matches, spots)
			}
			mult, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid multiplier %q for %d/%d: %w", s, spots, matches, err)
			}
			converted[matches] = mult
		}
		pt.Multipliers[spots] = converted
	}
	return pt, nil
}

// Default returns the standard 80/20 keno paytable, base unit 1.00.
func Default() *Paytable {
	return &Paytable{
		Version:  "keno-80-20-v1",
		BaseUnit: decimal.NewFromInt(1),
		Multipliers: map[int]map[int]decimal.Decimal{
			1:  row(map[int]string{1: "3"}),
			2:  row(map[int]string{2: "12"}),
			3:  row(map[int]string{2: "1", 3: "42"}),
			4:  row(map[int]string{2: "1", 3: "4", 4: "108"}),
			5:  row(map[int]string{3: "2", 4: "20", 5: "450"}),
			6:  row(map[int]string{3: "1", 4: "7", 5: "80", 6: "1500"}),
			7:  row(map[int]string{4: "2", 5: "20", 6: "350", 7: "5000"}),
			8:  row(map[int]string{5: "9", 6: "90", 7: "1500", 8: "10000"}),
			9:  row(map[int]string{5: "4", 6: "40", 7: "300", 8: "4000", 9: "10000"}),
			10: row(map[int]string{5: "2", 6: "15", 7: "180", 8: "1300", 9: "5000", 10: "10000"}),
		},
	}
}

func row(multipliers map[int]string) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(multipliers))
	for matches, s := range multipliers {
		out[matches] = decimal.RequireFromString(s)
	}
	return out
}
