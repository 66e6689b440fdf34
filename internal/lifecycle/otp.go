package lifecycle

import (
	"crypto/rand"
	"math/big"
)

// generateOTP returns an n-digit numeric verification code. The code is set
// once at ride creation and never regenerated.
func generateOTP(n int) string {
	if n <= 0 {
		n = 4
	}
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			digits[i] = '0'
			continue
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}
