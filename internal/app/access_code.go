package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	accessCodeLength   = 6
	accessCodeAttempts = 25
)

// CodeChecker reports whether an access code is already taken.
type CodeChecker interface {
	AccessCodeExists(ctx context.Context, accessCode string) (bool, error)
}

// GenerateAccessCode produces a fresh numeric access code, retrying on
// collisions. Codes are zero-padded so they are always exactly six digits.
func GenerateAccessCode(ctx context.Context, checker CodeChecker) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < accessCodeLength; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	for attempt := 0; attempt < accessCodeAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		code := fmt.Sprintf("%0*d", accessCodeLength, n)
		taken, err := checker.AccessCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free access code after %d attempts", accessCodeAttempts)
}
