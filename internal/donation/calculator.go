package donation

import (
	"math"
	"strings"
)

// Calculator computes per-factor compatibility scores between a donor and a
// recipient. All factor scores are in [0.0, 1.0]; composite scores are on
// the 0-100 scale rounded to two decimals.
type Calculator struct {
	rules Rules
}

// NewCalculator validates the rules and binds them to a calculator.
func NewCalculator(rules Rules) (*Calculator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rules: rules}, nil
}

// Rules returns the configuration the calculator was built with.
func (c *Calculator) Rules() Rules { return c.rules }

// BloodTypeScore is the binary compatibility gate: 1.0 when the donor type
// appears in the recipient's compatible-donor set, 0.0 otherwise. Never a
// graded value.
func (c *Calculator) BloodTypeScore(donor, recipient BloodType) float64 {
	if c.rules.CompatibleDonor(donor, recipient) {
		return 1.0
	}
	return 0.0
}

// AgeScore decays linearly from 1.0 at equal ages to 0.0 at the maximum
// tolerated difference, and is exactly 0.0 beyond it.
func (c *Calculator) AgeScore(donorAge, recipientAge int) float64 {
	return linearDecay(math.Abs(float64(donorAge-recipientAge)), c.rules.Tolerances.MaxAgeDiff)
}

// HeightScore decays linearly over the height difference in centimetres.
func (c *Calculator) HeightScore(donorCm, recipientCm float64) float64 {
	return linearDecay(math.Abs(donorCm-recipientCm), c.rules.Tolerances.MaxHeightDiff)
}

// WeightScore decays linearly over the weight difference in kilograms.
func (c *Calculator) WeightScore(donorKg, recipientKg float64) float64 {
	return linearDecay(math.Abs(donorKg-recipientKg), c.rules.Tolerances.MaxWeightDiff)
}

// LocationScore returns the tiered constant for two "city, country" strings:
// same city, same country, or far. Matching is exact on the trimmed
// substrings.
func (c *Calculator) LocationScore(donorLocation, recipientLocation string) float64 {
	score, _ := c.locationTier(donorLocation, recipientLocation)
	return score
}

// Score computes the weighted composite for one candidate pairing along with
// the per-factor breakdown. Detail scores are reported on the 0-100 scale.
func (c *Calculator) Score(listing OrganListing, donor Profile, req RecipientRequest, recipient Profile) (float64, MatchDetails) {
	blood := c.BloodTypeScore(listing.BloodType, req.BloodType)
	age := c.AgeScore(donor.Age, recipient.Age)
	height := c.HeightScore(donor.HeightCm, recipient.HeightCm)
	weight := c.WeightScore(donor.WeightKg, recipient.WeightKg)
	location, tier := c.locationTier(listing.Location, req.Location)

	w := c.rules.Weights
	total := round2(100 * (blood*w.BloodType +
		age*w.Age +
		height*w.Height +
		weight*w.Weight +
		location*w.Location))

	details := MatchDetails{
		BloodType: BloodTypeDetail{
			Score:      round2(blood * 100),
			Compatible: blood > 0,
		},
		Age: RangeDetail{
			Score:      round2(age * 100),
			Difference: math.Abs(float64(donor.Age - recipient.Age)),
		},
		Height: RangeDetail{
			Score:      round2(height * 100),
			Difference: math.Abs(donor.HeightCm - recipient.HeightCm),
		},
		Weight: RangeDetail{
			Score:      round2(weight * 100),
			Difference: math.Abs(donor.WeightKg - recipient.WeightKg),
		},
		Location: LocationDetail{
			Score:    round2(location * 100),
			Distance: tier,
		},
	}
	return total, details
}

func (c *Calculator) locationTier(donorLocation, recipientLocation string) (float64, string) {
	donorCity, donorCountry := SplitLocation(donorLocation)
	recipCity, recipCountry := SplitLocation(recipientLocation)

	if donorCity != "" && donorCity == recipCity {
		return c.rules.Location.SameCity, "Same City"
	}
	if donorCountry != "" && donorCountry == recipCountry {
		return c.rules.Location.SameCountry, "Same Country"
	}
	return c.rules.Location.Far, "Far"
}

// SplitLocation parses free-text "city, country" on the first comma. A
// string without a comma is treated as a bare city with no country.
func SplitLocation(location string) (city, country string) {
	city, country, found := strings.Cut(location, ",")
	city = strings.TrimSpace(city)
	if !found {
		return city, ""
	}
	return city, strings.TrimSpace(country)
}

// linearDecay maps diff in [0, max] to [1, 0]; beyond max the score is 0.
func linearDecay(diff, max float64) float64 {
	if diff > max {
		return 0.0
	}
	return 1 - diff/max
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
