package basket

import "time"

// Claim is the loss paid on a default.
type Claim interface {
	Amount(defaultDate time.Time, notional, recoveryRate float64) float64
}

// FaceValueClaim pays par minus recovery.
type FaceValueClaim struct{}

func (FaceValueClaim) Amount(_ time.Time, notional, recoveryRate float64) float64 {
	return notional * (1 - recoveryRate)
}
