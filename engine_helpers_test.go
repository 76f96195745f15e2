package accountguard_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accountguard "github.com/securyflex/accountguard"
	"github.com/securyflex/accountguard/store/memstore"
	"go.uber.org/zap/zaptest"
)

const (
	adminEmail   = "admin@securyflex.nl"
	testPassword = "correct-horse-battery"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	Purpose   accountguard.Purpose
	To        string
	Name      string
	Token     string
	ExpiresAt time.Time
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, name, token string, expiresAt time.Time) error {
	return m.record(sentMail{accountguard.PurposeReset, to, name, token, expiresAt})
}

func (m *recordingMailer) SendVerification(_ context.Context, to, name, token string, expiresAt time.Time) error {
	return m.record(sentMail{accountguard.PurposeVerify, to, name, token, expiresAt})
}

func (m *recordingMailer) record(mail sentMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func (m *recordingMailer) Last(t testing.TB) sentMail {
	t.Helper()
	sent := m.Sent()
	if len(sent) == 0 {
		t.Fatal("expected a mail to be sent")
	}
	return sent[len(sent)-1]
}

type harness struct {
	engine *accountguard.Engine
	store  *memstore.Store
	clock  *testClock
	mailer *recordingMailer
}

// testConfig keeps argon2 cheap and the enumeration delay off so tests stay
// fast; individual tests turn the delay back on when they measure it.
func testConfig() accountguard.Config {
	cfg := accountguard.DefaultConfig()
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Tokens.EnumerationDelayMin = 0
	cfg.Tokens.EnumerationDelayMax = 0
	cfg.Admin.Emails = []string{adminEmail}
	cfg.JWT.PrivateKey = testKey
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t testing.TB, mutate func(*accountguard.Config), extra ...func(*accountguard.Builder)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		store:  memstore.New(),
		clock:  newTestClock(),
		mailer: &recordingMailer{},
	}

	b := accountguard.New().
		WithConfig(cfg).
		WithBackend(h.store).
		WithClock(h.clock).
		WithMailer(h.mailer).
		WithLogger(zaptest.NewLogger(t))
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) createAccount(t testing.TB, email string, role accountguard.Role) accountguard.Account {
	t.Helper()
	a, err := h.engine.CreateAccount(context.Background(), accountguard.CreateAccountInput{
		Email:       email,
		DisplayName: "Test User",
		Role:        role,
		Password:    testPassword,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	return a
}

func (h *harness) account(t *testing.T, email string) accountguard.Account {
	t.Helper()
	a, err := h.store.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("FindByEmail(%s): %v", email, err)
	}
	return a
}

func (h *harness) events(t *testing.T, kinds ...accountguard.EventKind) []accountguard.SecurityEvent {
	t.Helper()
	events, err := h.store.Query(context.Background(), accountguard.EventFilter{Kinds: kinds}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return events
}

func (h *harness) failLogin(t *testing.T, email string, n int) error {
	t.Helper()
	var err error
	for i := 0; i < n; i++ {
		_, err = h.engine.Login(context.Background(), email, "wrong-password-123")
		if err == nil {
			t.Fatal("expected wrong password to fail")
		}
	}
	return err
}

// provisionAdmin returns the verified admin account, creating it on first use.
func (h *harness) provisionAdmin(t testing.TB) accountguard.Account {
	t.Helper()
	if a, err := h.store.FindByEmail(context.Background(), adminEmail); err == nil {
		return a
	}
	a, err := h.engine.ProvisionAdmin(context.Background(), accountguard.CreateAccountInput{
		Email:       adminEmail,
		DisplayName: "Admin",
		Password:    testPassword,
	})
	if err != nil {
		t.Fatalf("ProvisionAdmin: %v", err)
	}
	return a
}

func (h *harness) adminContext(t testing.TB, path string) context.Context {
	t.Helper()
	admin := h.provisionAdmin(t)
	ctx := accountguard.WithPrincipal(context.Background(), accountguard.Principal{
		AccountID: admin.ID,
		Email:     "Admin@SecuryFlex.nl",
		Role:      accountguard.RoleAdmin,
	})
	return accountguard.WithRequestPath(ctx, path)
}

func requireLocked(t *testing.T, err error) *accountguard.LockedError {
	t.Helper()
	var locked *accountguard.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
	return locked
}
