package fingerprint

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Verifier scores log text against reference fingerprints
type Verifier struct {
	normalizer *Normalizer
	threshold  float64
}

// NewVerifier returns a verifier. A nil normalizer means DefaultNormalizer.
func NewVerifier(n *Normalizer, threshold float64) (*Verifier, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if n == nil {
		n = DefaultNormalizer()
	}
	return &Verifier{normalizer: n, threshold: threshold}, nil
}

// ValidateThreshold requires a threshold in (0, 1]
func ValidateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("fingerprint threshold must be in (0, 1], got %v", threshold)
	}
	return nil
}

// Threshold returns the default threshold
func (v *Verifier) Threshold() float64 {
	return v.threshold
}

// Compute fingerprints output
func (v *Verifier) Compute(output string) Fingerprint {
	return FromLines(v.normalizer.Lines(output))
}

// Check fingerprints output and compares it against the encoded reference.
// A zero threshold uses the verifier default. An empty reference yields an
// unchecked, passing result carrying only the observed literal.
func (v *Verifier) Check(output, reference string, threshold float64) (types.FingerprintCheck, error) {
	if threshold == 0 {
		threshold = v.threshold
	}
	if err := ValidateThreshold(threshold); err != nil {
		return types.FingerprintCheck{}, err
	}

	observed := v.Compute(output)
	check := types.FingerprintCheck{
		Threshold: threshold,
		Observed:  observed.Literal(),
		Pass:      true,
	}
	if reference == "" {
		return check, nil
	}

	expected, err := Decode(reference)
	if err != nil {
		return types.FingerprintCheck{}, err
	}
	check.Checked = true
	check.Expected = expected.Literal()
	check.Similarity = observed.Similarity(expected)
	check.Agreement = observed.Agreement(expected)
	check.DivergentBits = observed.DivergentBits(expected)
	check.Pass = check.Similarity >= threshold
	return check, nil
}
