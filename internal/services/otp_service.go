package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OTPService выдаёт короткие цифровые коды. В базе лежит только
// HMAC-SHA256(secret, code), поэтому поиск по коду детерминирован,
// а перебор миллиона вариантов без секрета невозможен.
type OTPService interface {
	Generate() (code, hash string, err error)
	Hash(code string) string
	Verify(candidate, storedHash string, expiry, now time.Time) bool
	// WellFormed: ровно Digits() цифр.
	WellFormed(code string) bool
	Digits() int
}

type otpService struct {
	secret []byte
	digits int
	limit  *big.Int
}

func NewOTPService(secret string, digits int) (OTPService, error) {
	if secret == "" {
		return nil, errors.New("otp secret must be set")
	}
	if digits == 0 {
		digits = 6
	}
	if digits < 4 || digits > 10 {
		return nil, fmt.Errorf("otp digits %d out of range", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	return &otpService{secret: []byte(secret), digits: digits, limit: limit}, nil
}

func (s *otpService) Digits() int { return s.digits }

func (s *otpService) Generate() (string, string, error) {
	n, err := rand.Int(rand.Reader, s.limit)
	if err != nil {
		return "", "", fmt.Errorf("generate otp: %w", err)
	}
	code := fmt.Sprintf("%0*d", s.digits, n)
	return code, s.Hash(code), nil
}

func (s *otpService) Hash(code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *otpService) Verify(candidate, storedHash string, expiry, now time.Time) bool {
	if !s.WellFormed(candidate) || !now.Before(expiry) {
		return false
	}
	return hmac.Equal([]byte(s.Hash(candidate)), []byte(storedHash))
}

func (s *otpService) WellFormed(code string) bool {
	if len(code) != s.digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
