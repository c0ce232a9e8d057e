package trading

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haimerb/iqbts/internal/pkg/ulid"
)

// DefaultPaperBalance is the practice balance a paper account starts with.
const DefaultPaperBalance = 10000.0

// ErrHandleClosed is returned by calls on a handle that has been closed.
var ErrHandleClosed = errors.New("trading session is closed")

// PaperVerifier authenticates against a fixed set of in-memory practice
// accounts. It stands in for the platform in development and tests.
type PaperVerifier struct {
	mu           sync.Mutex
	accounts     map[string]string
	balances     map[string]float64
	startBalance float64
	open         map[string]*PaperHandle
	now          func() time.Time
}

// NewPaperVerifier creates a verifier for accounts (identifier -> secret).
// A non-positive startBalance selects DefaultPaperBalance.
func NewPaperVerifier(accounts map[string]string, startBalance float64) *PaperVerifier {
	if startBalance <= 0 {
		startBalance = DefaultPaperBalance
	}
	v := &PaperVerifier{
		accounts:     make(map[string]string, len(accounts)),
		balances:     make(map[string]float64, len(accounts)),
		startBalance: startBalance,
		open:         make(map[string]*PaperHandle),
		now:          time.Now,
	}
	for id, secret := range accounts {
		key := strings.ToLower(strings.TrimSpace(id))
		v.accounts[key] = secret
		v.balances[key] = startBalance
	}
	return v
}

// Authenticate checks the credentials and opens a paper session.
func (v *PaperVerifier) Authenticate(ctx context.Context, identifier, secret string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := strings.ToLower(strings.TrimSpace(identifier))

	v.mu.Lock()
	defer v.mu.Unlock()

	want, ok := v.accounts[key]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		return Result{Success: false, Reason: "invalid_credentials"}, nil
	}

	h := &PaperHandle{
		id:       ulid.NewAt(v.now()),
		account:  key,
		verifier: v,
	}
	v.open[h.id] = h
	return Result{Success: true, Handle: h}, nil
}

// OpenSessions returns the number of handles that have not been closed.
func (v *PaperVerifier) OpenSessions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.open)
}

// PaperHandle is an open paper session.
type PaperHandle struct {
	id       string
	account  string
	verifier *PaperVerifier
	closed   bool
}

// ID returns the session identifier.
func (h *PaperHandle) ID() string {
	return h.id
}

// GetBalance returns the account's practice balance.
func (h *PaperHandle) GetBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v := h.verifier
	v.mu.Lock()
	defer v.mu.Unlock()
	if h.closed {
		return 0, ErrHandleClosed
	}
	return v.balances[h.account], nil
}

// ResetPracticeBalance restores the starting balance.
func (h *PaperHandle) ResetPracticeBalance(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v := h.verifier
	v.mu.Lock()
	defer v.mu.Unlock()
	if h.closed {
		return "", ErrHandleClosed
	}
	v.balances[h.account] = v.startBalance
	return "ok", nil
}

// Close ends the session. Closing twice is a no-op.
func (h *PaperHandle) Close(ctx context.Context) error {
	v := h.verifier
	v.mu.Lock()
	defer v.mu.Unlock()
	h.closed = true
	delete(v.open, h.id)
	return nil
}

var (
	_ Verifier = (*PaperVerifier)(nil)
	_ Handle   = (*PaperHandle)(nil)
	_ Closer   = (*PaperHandle)(nil)
)
