package domain

const (
	SegmentNew        = "New"
	SegmentOccasional = "Occasional"
	SegmentRegular    = "Regular"
	SegmentHighValue  = "High-Value"
)

const (
	DefaultRegularAboveCents   int64 = 1_000_000
	DefaultHighValueAboveCents int64 = 5_000_000
)

// SegmentPolicy derives a customer segment from cumulative spend. Both bounds
// are exclusive: spend equal to a threshold stays in the lower band.
type SegmentPolicy struct {
	RegularAboveCents   int64
	HighValueAboveCents int64
}

func DefaultSegmentPolicy() SegmentPolicy {
	return SegmentPolicy{
		RegularAboveCents:   DefaultRegularAboveCents,
		HighValueAboveCents: DefaultHighValueAboveCents,
	}
}

func (p SegmentPolicy) Classify(spendCents int64, visits int) string {
	switch {
	case spendCents > p.HighValueAboveCents:
		return SegmentHighValue
	case spendCents > p.RegularAboveCents:
		return SegmentRegular
	case visits > 0 && spendCents > 0:
		return SegmentOccasional
	default:
		return SegmentNew
	}
}

func (p SegmentPolicy) Validate() error {
	if p.RegularAboveCents < 0 {
		return NewValidation("regular_threshold", "must not be negative")
	}
	if p.HighValueAboveCents <= p.RegularAboveCents {
		return NewValidation("high_value_threshold", "must be above the regular threshold")
	}
	return nil
}
