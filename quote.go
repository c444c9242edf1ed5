package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// RequirementsSelector chooses which payment option to use when a quote
// offers several. The slice is never empty.
type RequirementsSelector func(accepts []PaymentRequirements) PaymentRequirements

// SelectFirstRequirements is the default selector: the first accepts entry.
// Multi-scheme negotiation is deliberately not implemented; servers that
// offer alternatives always list their preferred option first.
func SelectFirstRequirements(accepts []PaymentRequirements) PaymentRequirements {
	return accepts[0]
}

// ParsePaymentRequired turns the body of a 402 response into a
// PaymentRequired. It accepts the standard accepts-array shape as well as the
// older top-level amount/description fallback. A body that is not JSON, or
// that carries neither accepts nor amount, is a quote_malformed error; the
// caller must not proceed to signing.
func ParsePaymentRequired(body []byte) (*PaymentRequired, error) {
	var required PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, NewPaymentError(ErrCodeQuoteMalformed,
			fmt.Sprintf("402 body is not valid JSON: %v", err), nil)
	}

	if len(required.Accepts) == 0 && required.Amount == "" {
		return nil, NewPaymentError(ErrCodeQuoteMalformed,
			"402 body carries neither accepts nor amount", nil)
	}

	for i, req := range required.Accepts {
		if err := req.Validate(); err != nil {
			return nil, NewPaymentError(ErrCodeQuoteMalformed,
				fmt.Sprintf("accepts[%d]: %v", i, err), nil)
		}
	}

	return &required, nil
}

// SelectRequirements picks the payment option to fulfill, applying selector
// (nil means SelectFirstRequirements). A quote with an empty accepts array
// cannot be paid programmatically even when the fallback fields parsed.
func (pr *PaymentRequired) SelectRequirements(selector RequirementsSelector) (PaymentRequirements, error) {
	if len(pr.Accepts) == 0 {
		return PaymentRequirements{}, NewPaymentError(ErrCodeQuoteMalformed,
			"quote has no accepts entries to select from", nil)
	}
	if selector == nil {
		selector = SelectFirstRequirements
	}
	return selector(pr.Accepts), nil
}

// DisplayAmount converts a base-unit integer string into a human-readable
// decimal amount with two fractional digits, e.g. "1000000" at 6 decimals
// becomes "1.00". The conversion is display-only and must never feed back
// into a signed value, which stays in base units.
func DisplayAmount(baseUnits string, decimals int) (string, error) {
	value, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return "", fmt.Errorf("invalid base-unit amount: %s", baseUnits)
	}
	if decimals < 0 {
		return "", fmt.Errorf("invalid decimals: %d", decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, scale).FloatString(2), nil
}

// ParseAmount converts a human-readable decimal amount into base units,
// the inverse of DisplayAmount. Used by the gate to turn a configured price
// into the quote's maxAmountRequired.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.Num(), nil
}
