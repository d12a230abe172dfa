// Package otp keeps one-time passcodes per phone number and bounds how many
// guesses each issued code may receive.
package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultMaxAttempts is the number of wrong guesses that invalidate a code.
const DefaultMaxAttempts = 3

// DefaultGrace is how long an expired record is retained so a late verify
// reports ErrExpired rather than ErrNotFound.
const DefaultGrace = 10 * time.Minute

var (
	ErrNotFound     = errors.New("otp: not found")
	ErrExpired      = errors.New("otp: expired")
	ErrInvalidCode  = errors.New("otp: invalid code")
	ErrAttemptLimit = errors.New("otp: too many attempts")
	ErrInvalidInput = errors.New("otp: invalid input")
)

// Record is the ledger entry for one phone number. Only the SHA-256 digest of
// the code is kept.
type Record struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
	Verified  bool      `json:"verified"`
}

// Ledger stores and verifies passcodes.
//
// Store replaces any pending record for the phone. Verify checks expiry
// first, then the code. A match consumes the record. A mismatch counts an
// attempt and, once the limit is reached, deletes the record with
// ErrAttemptLimit. The returned Record is the final state of the entry.
type Ledger interface {
	Store(ctx context.Context, phone, code string, expiresAt time.Time) error
	Verify(ctx context.Context, phone, code string) (Record, error)
}

// HashCode returns the hex SHA-256 digest of code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares code against a stored digest in constant time.
func CodeEqual(code, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(storedHash)) == 1
}

// Option configures a ledger.
type Option func(*options)

type options struct {
	maxAttempts int
	grace       time.Duration
	now         func() time.Time
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.grace = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxAttempts: DefaultMaxAttempts, grace: DefaultGrace, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newRecord(phone, code string, expiresAt, now time.Time) (Record, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" || expiresAt.IsZero() {
		return Record{}, ErrInvalidInput
	}
	return Record{
		Phone:     phone,
		CodeHash:  HashCode(code),
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now.UTC(),
	}, nil
}

// verdict is the outcome of one verify against a pending record.
type verdict struct {
	rec    Record
	remove bool
	err    error
}

func evaluate(rec Record, code string, now time.Time, maxAttempts int) verdict {
	if now.After(rec.ExpiresAt) {
		return verdict{rec: rec, remove: true, err: ErrExpired}
	}
	if CodeEqual(strings.TrimSpace(code), rec.CodeHash) {
		rec.Verified = true
		return verdict{rec: rec, remove: true}
	}
	rec.Attempts++
	if rec.Attempts >= maxAttempts {
		return verdict{rec: rec, remove: true, err: ErrAttemptLimit}
	}
	return verdict{rec: rec, err: ErrInvalidCode}
}
