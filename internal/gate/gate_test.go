package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "session-vault/backend/internal/audit/domain"
)

type fakeCounters struct {
	mu      sync.Mutex
	now     func() time.Time
	counts  map[string]int64
	expires map[string]time.Time
	locks   map[string]time.Time
}

func newFakeCounters(now func() time.Time) *fakeCounters {
	return &fakeCounters{
		now:     now,
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		locks:   make(map[string]time.Time),
	}
}

func (f *fakeCounters) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exp, ok := f.expires[key]; ok && f.now().After(exp) {
		delete(f.counts, key)
		delete(f.expires, key)
	}
	f.counts[key]++
	if _, ok := f.expires[key]; !ok {
		f.expires[key] = f.now().Add(window)
	}
	return f.counts[key], nil
}

func (f *fakeCounters) Count(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exp, ok := f.expires[key]; ok && f.now().After(exp) {
		delete(f.counts, key)
		delete(f.expires, key)
	}
	return f.counts[key], nil
}

func (f *fakeCounters) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.expires[key]
	if !ok {
		return 0, nil
	}
	d := exp.Sub(f.now())
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (f *fakeCounters) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	delete(f.expires, key)
	return nil
}

func (f *fakeCounters) Lock(_ context.Context, key string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[key] = f.now().Add(d)
	return nil
}

func (f *fakeCounters) Locked(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.locks[key]
	if !ok {
		return 0, nil
	}
	d := exp.Sub(f.now())
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

type fakeVerifier struct {
	identities map[string]string // email -> password
}

func (f *fakeVerifier) Verify(_ context.Context, email, password string) (*Identity, error) {
	want, ok := f.identities[email]
	if !ok || want != password {
		return nil, ErrBadCredentials
	}
	return &Identity{ID: "id-" + email, Email: email, Roles: []string{"member"}}, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (f *fakeRecorder) Record(_ context.Context, e auditdomain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

func testLimits() Limits {
	return Limits{
		EmailWindow:   15 * time.Minute,
		EmailMax:      5,
		IPWindow:      15 * time.Minute,
		IPMax:         20,
		LockWindow:    24 * time.Hour,
		LockThreshold: 10,
		LockDuration:  time.Hour,
	}
}

func newTestGate(now *time.Time, limits Limits) (*Gate, *fakeCounters, *fakeRecorder) {
	counters := newFakeCounters(func() time.Time { return *now })
	verifier := &fakeVerifier{identities: map[string]string{"alice@example.com": "correct-horse"}}
	recorder := &fakeRecorder{}
	g := New(counters, verifier, recorder, nil, limits)
	g.now = func() time.Time { return *now }
	return g, counters, recorder
}

func TestAuthenticate_Success(t *testing.T) {
	now := time.Now()
	g, _, _ := newTestGate(&now, testLimits())

	ident, err := g.Authenticate(context.Background(), "Alice@Example.com", "correct-horse", "203.0.113.7")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.ID != "id-alice@example.com" {
		t.Errorf("identity = %q", ident.ID)
	}
}

func TestAuthenticate_EmailWindowExhausted(t *testing.T) {
	now := time.Now()
	g, _, rec := newTestGate(&now, testLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.Authenticate(ctx, "alice@example.com", "wrong", "203.0.113.7"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: want ErrBadCredentials, got %v", i+1, err)
		}
	}

	// The sixth attempt is rejected before verification, even with the right password.
	_, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "203.0.113.7")
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitedError, got %v", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 15*time.Minute {
		t.Errorf("RetryAfter = %v, want within the window", rl.RetryAfter)
	}

	found := false
	for _, a := range rec.actions() {
		if a == auditdomain.ActionLoginDenied {
			found = true
		}
	}
	if !found {
		t.Error("denial was not audited")
	}
}

func TestAuthenticate_WindowResetsAfterExpiry(t *testing.T) {
	now := time.Now()
	g, _, _ := newTestGate(&now, testLimits())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		g.Authenticate(ctx, "alice@example.com", "wrong", "203.0.113.7")
	}
	now = now.Add(16 * time.Minute)

	if _, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "203.0.113.7"); err != nil {
		t.Fatalf("after window expiry: %v", err)
	}
}

func TestAuthenticate_SuccessResetsEmailCounterNotIP(t *testing.T) {
	now := time.Now()
	limits := testLimits()
	limits.IPMax = 8
	g, counters, _ := newTestGate(&now, limits)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.Authenticate(ctx, "alice@example.com", "wrong", "203.0.113.7")
	}
	if _, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "203.0.113.7"); err != nil {
		t.Fatalf("success after failures: %v", err)
	}
	if counters.counts[emailKeyPrefix+"alice@example.com"] != 0 {
		t.Error("email counter should reset on success")
	}
	if got := counters.counts[ipKeyPrefix+"203.0.113.7"]; got != 4 {
		t.Errorf("ip counter = %d, want 4 (failures kept, success uncounted)", got)
	}
}

func TestAuthenticate_SuccessfulLoginsNeverConsumeIPBudget(t *testing.T) {
	now := time.Now()
	limits := testLimits()
	limits.IPMax = 3
	g, counters, _ := newTestGate(&now, limits)
	ctx := context.Background()

	// A NAT full of well-behaved users: more successful logins than the IP
	// ceiling, all from one address.
	for i := 0; i < 4; i++ {
		if _, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "198.51.100.9"); err != nil {
			t.Fatalf("successful login %d was denied: %v", i+1, err)
		}
	}
	if got := counters.counts[ipKeyPrefix+"198.51.100.9"]; got != 0 {
		t.Errorf("ip counter = %d after successes only, want 0", got)
	}
}

func TestAuthenticate_IPWindowExhausted(t *testing.T) {
	now := time.Now()
	limits := testLimits()
	limits.EmailMax = 100
	limits.IPMax = 3
	g, _, _ := newTestGate(&now, limits)
	ctx := context.Background()

	// Spray distinct accounts from one address.
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := g.Authenticate(ctx, email, "wrong", "198.51.100.9"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := g.Authenticate(ctx, "d@example.com", "wrong", "198.51.100.9")
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitedError, got %v", err)
	}
}

func TestAuthenticate_LockoutTripsAndHolds(t *testing.T) {
	now := time.Now()
	limits := testLimits()
	limits.EmailMax = 100 // let failures through to the lockout counter
	limits.LockThreshold = 3
	g, _, rec := newTestGate(&now, limits)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Authenticate(ctx, "alice@example.com", "wrong", "203.0.113.7"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	_, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "203.0.113.7")
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("want AccountLockedError, got %v", err)
	}
	if locked.RetryAfter <= 0 || locked.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v", locked.RetryAfter)
	}

	tripped := false
	for _, a := range rec.actions() {
		if a == auditdomain.ActionLockoutTriggered {
			tripped = true
		}
	}
	if !tripped {
		t.Error("lockout was not audited")
	}

	// The lock clears after its duration.
	now = now.Add(61 * time.Minute)
	if _, err := g.Authenticate(ctx, "alice@example.com", "correct-horse", "203.0.113.7"); err != nil {
		t.Fatalf("after lockout expiry: %v", err)
	}
}

func TestAuthenticate_UnknownAndWrongPasswordIndistinguishable(t *testing.T) {
	now := time.Now()
	g, _, _ := newTestGate(&now, testLimits())
	ctx := context.Background()

	_, errUnknown := g.Authenticate(ctx, "nobody@example.com", "whatever", "203.0.113.7")
	_, errWrong := g.Authenticate(ctx, "alice@example.com", "wrong", "203.0.113.7")
	if !errors.Is(errUnknown, ErrBadCredentials) || !errors.Is(errWrong, ErrBadCredentials) {
		t.Fatalf("unknown=%v wrong=%v, want the same sentinel", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Error("denials must carry the same message")
	}
}
