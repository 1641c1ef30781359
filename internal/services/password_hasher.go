package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// PasswordHasher хэширует пароли новым алгоритмом и проверяет любые
// поддерживаемые форматы (bcrypt и argon2id), определяя их по префиксу.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(encoded, password string) (bool, error)
	// CompareDummy тратит столько же времени, сколько Compare на реальном хэше.
	CompareDummy(password string)
}

type passwordHasher struct {
	algorithm  string
	bcryptCost int
	argon      Argon2Params

	dummyOnce sync.Once
	dummy     string
}

func NewPasswordHasher(algorithm string, bcryptCost int, argon Argon2Params) (PasswordHasher, error) {
	switch algorithm {
	case "", HashBcrypt:
		algorithm = HashBcrypt
		if bcryptCost == 0 {
			bcryptCost = bcrypt.DefaultCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
	case HashArgon2id:
		if argon.KeyLength == 0 || argon.SaltLength == 0 || argon.Iterations == 0 || argon.Parallelism == 0 {
			return nil, errors.New("argon2id params are incomplete")
		}
	default:
		return nil, fmt.Errorf("unknown password hash algorithm %q", algorithm)
	}
	return &passwordHasher{algorithm: algorithm, bcryptCost: bcryptCost, argon: argon}, nil
}

func (h *passwordHasher) Hash(password string) (string, error) {
	if h.algorithm == HashArgon2id {
		return h.hashArgon2(password)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(b), nil
}

func (h *passwordHasher) Compare(encoded, password string) (bool, error) {
	switch {
	case encoded == "":
		return false, nil
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2(encoded, password)
	case strings.HasPrefix(encoded, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("bcrypt: %w", err)
	default:
		return false, errors.New("unknown password hash format")
	}
}

func (h *passwordHasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash("dummy-password-for-timing")
	})
	_, _ = h.Compare(h.dummy, password)
}

func (h *passwordHasher) hashArgon2(password string) (string, error) {
	p := h.argon
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid argon2id hash format")
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse argon2id params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
