package asset

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	// ErrScaleMismatch occurs when amounts with different asset codes or
	// scales are combined; mixing units would corrupt the result.
	ErrScaleMismatch = errors.New("asset scale mismatch")

	// ErrInexactAmount indicates a decimal amount carries more precision
	// than the asset scale can represent atomically.
	ErrInexactAmount = errors.New("amount not representable at asset scale")
)

// Amount mirrors the provider wire format for monetary values: an atomic
// integer encoded as a decimal string plus the asset it denominates.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int32  `json:"assetScale"`
}

// Atomic parses the wire value into the atomic integer form.
func (a Amount) Atomic() (int64, error) {
	v, err := strconv.ParseInt(a.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount value %q: %w", a.Value, err)
	}
	return v, nil
}

// ToHuman converts an atomic integer into its human decimal representation.
// The atomic integer stays the source of truth for arithmetic; the decimal
// form is for display and request input only.
func ToHuman(atomic int64, scale int32) decimal.Decimal {
	return decimal.New(atomic, -scale)
}

// ToAtomic converts a human decimal amount into atomic units at the given
// scale. Amounts with residual precision beyond the scale fail with
// ErrInexactAmount rather than being rounded silently.
func ToAtomic(human decimal.Decimal, scale int32) (int64, error) {
	shifted := human.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s at scale %d", ErrInexactAmount, human.String(), scale)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s overflows atomic range at scale %d", human.String(), scale)
	}
	return shifted.IntPart(), nil
}

// FormatAtomic renders an atomic amount as a fixed-point string with exactly
// scale fractional digits, e.g. FormatAtomic(600, 2) == "6.00".
func FormatAtomic(atomic int64, scale int32) string {
	return ToHuman(atomic, scale).StringFixed(scale)
}

// New builds a wire Amount from atomic units.
func New(atomic int64, code string, scale int32) Amount {
	return Amount{Value: strconv.FormatInt(atomic, 10), AssetCode: code, AssetScale: scale}
}

// Sum folds a sequence of amounts into a single atomic total, enforcing that
// every operand reports the same asset code and scale.
func Sum(amounts []Amount) (total int64, code string, scale int32, err error) {
	for i, a := range amounts {
		if i == 0 {
			code, scale = a.AssetCode, a.AssetScale
		} else if a.AssetCode != code || a.AssetScale != scale {
			return 0, "", 0, fmt.Errorf("%w: %s/%d vs %s/%d", ErrScaleMismatch, code, scale, a.AssetCode, a.AssetScale)
		}
		v, aerr := a.Atomic()
		if aerr != nil {
			return 0, "", 0, aerr
		}
		total += v
	}
	return total, code, scale, nil
}
