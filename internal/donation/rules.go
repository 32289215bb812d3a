package donation

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"
)

// FactorWeights distributes the composite score across the five factors.
// The values must sum to 1.0.
type FactorWeights struct {
	BloodType float64 `yaml:"blood_type"`
	Age       float64 `yaml:"age"`
	Height    float64 `yaml:"height"`
	Weight    float64 `yaml:"weight"`
	Location  float64 `yaml:"location"`
}

// Tolerances are the hard cut-offs beyond which a factor scores zero.
type Tolerances struct {
	MaxAgeDiff    float64 `yaml:"max_age_diff"`    // years
	MaxHeightDiff float64 `yaml:"max_height_diff"` // centimetres
	MaxWeightDiff float64 `yaml:"max_weight_diff"` // kilograms
}

// LocationTiers are the graded constants for geographic proximity.
type LocationTiers struct {
	SameCity    float64 `yaml:"same_city"`
	SameCountry float64 `yaml:"same_country"`
	Far         float64 `yaml:"far"`
}

// Thresholds are the notification and reporting cut-offs on the 0-100 scale.
// PotentialMatch is enforced inside the engine at record-creation time;
// HighMatch is applied by callers iterating a returned match list. The two
// policies are independent and both are load-bearing.
type Thresholds struct {
	MinMatch       float64 `yaml:"min_match"`
	PotentialMatch float64 `yaml:"potential_match"`
	HighMatch      float64 `yaml:"high_match"`
}

// Rules is the immutable configuration of the match calculator: the directed
// blood-type compatibility matrix, factor weights, tolerance cut-offs,
// location tiers and notification thresholds. Built once at process start
// and injected; never mutated afterwards.
type Rules struct {
	Weights    FactorWeights `yaml:"weights"`
	Tolerances Tolerances    `yaml:"tolerances"`
	Location   LocationTiers `yaml:"location"`
	Thresholds Thresholds    `yaml:"thresholds"`

	// BloodCompatibility maps a recipient blood type to the set of donor
	// types that may give to it.
	BloodCompatibility map[BloodType][]BloodType `yaml:"blood_compatibility"`
}

// DefaultRules returns the standard matching configuration.
func DefaultRules() Rules {
	return Rules{
		Weights: FactorWeights{
			BloodType: 0.4,
			Age:       0.2,
			Height:    0.1,
			Weight:    0.1,
			Location:  0.2,
		},
		Tolerances: Tolerances{
			MaxAgeDiff:    20,
			MaxHeightDiff: 10,
			MaxWeightDiff: 20,
		},
		Location: LocationTiers{
			SameCity:    1.0,
			SameCountry: 0.7,
			Far:         0.3,
		},
		Thresholds: Thresholds{
			MinMatch:       60,
			PotentialMatch: 70,
			HighMatch:      85,
		},
		BloodCompatibility: map[BloodType][]BloodType{
			BloodONeg:  {BloodONeg},
			BloodOPos:  {BloodONeg, BloodOPos},
			BloodANeg:  {BloodONeg, BloodANeg},
			BloodAPos:  {BloodONeg, BloodOPos, BloodANeg, BloodAPos},
			BloodBNeg:  {BloodONeg, BloodBNeg},
			BloodBPos:  {BloodONeg, BloodOPos, BloodBNeg, BloodBPos},
			BloodABNeg: {BloodONeg, BloodANeg, BloodBNeg, BloodABNeg},
			BloodABPos: {BloodONeg, BloodOPos, BloodANeg, BloodAPos, BloodBNeg, BloodBPos, BloodABNeg, BloodABPos},
		},
	}
}

// LoadRules reads a YAML rules file over the defaults, so a partial file
// only overrides the keys it names.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks internal consistency of the rules.
func (r Rules) Validate() error {
	sum := r.Weights.BloodType + r.Weights.Age + r.Weights.Height + r.Weights.Weight + r.Weights.Location
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("factor weights must sum to 1.0, got %v", sum)
	}
	if r.Tolerances.MaxAgeDiff <= 0 || r.Tolerances.MaxHeightDiff <= 0 || r.Tolerances.MaxWeightDiff <= 0 {
		return fmt.Errorf("tolerances must be positive: %+v", r.Tolerances)
	}
	if len(r.BloodCompatibility) != len(BloodTypes) {
		return fmt.Errorf("blood compatibility matrix must cover all %d recipient types, got %d", len(BloodTypes), len(r.BloodCompatibility))
	}
	for recipient, donors := range r.BloodCompatibility {
		if !recipient.Valid() {
			return fmt.Errorf("unknown recipient blood type %q in matrix", recipient)
		}
		for _, d := range donors {
			if !d.Valid() {
				return fmt.Errorf("unknown donor blood type %q for recipient %q", d, recipient)
			}
		}
	}
	if r.Thresholds.PotentialMatch > r.Thresholds.HighMatch {
		return fmt.Errorf("potential-match threshold %v exceeds high-match threshold %v",
			r.Thresholds.PotentialMatch, r.Thresholds.HighMatch)
	}
	return nil
}

// CompatibleDonor reports whether donor blood may be given to recipient
// blood under the directed compatibility matrix.
func (r Rules) CompatibleDonor(donor, recipient BloodType) bool {
	for _, d := range r.BloodCompatibility[recipient] {
		if d == donor {
			return true
		}
	}
	return false
}
