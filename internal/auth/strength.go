package auth

import "unicode"

const (
	StrengthVeryWeak = iota
	StrengthWeak
	StrengthMedium
	StrengthStrong
	StrengthVeryStrong
)

var strengthLabels = [...]string{"Very Weak", "Weak", "Medium", "Strong", "Very Strong"}

// PasswordStrength scores a password from 0 to 4: one point each for length of
// at least 8, an upper-case letter, a lower-case letter, and a digit or symbol.
func PasswordStrength(password string) (int, string) {
	var upper, lower, digitOrSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r), r == ' ':
			digitOrSymbol = true
		}
	}

	score := 0
	if len(password) >= 8 {
		score++
	}
	for _, ok := range []bool{upper, lower, digitOrSymbol} {
		if ok {
			score++
		}
	}
	return score, strengthLabels[score]
}
