package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"sessiond/cmd/internal/audit"
	"sessiond/cmd/internal/directory"
	"sessiond/cmd/security/token"
)

// testNow anchors the injected clock near wall time so absolute deadlines
// (the Redis retention PEXPIREAT) stay in the future on any run date.
var testNow = time.Now().UTC().Truncate(time.Second)

func testConfig(t *testing.T) Config {
	t.Helper()
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()
	return cfg
}

func testDirectory(roles ...string) *directory.StaticDirectory {
	dir := directory.NewStaticDirectory()
	dir.Put(directory.User{ID: "u-1", DisplayName: "Alice Example", Roles: roles})
	return dir
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

func newTestService(t *testing.T, cfg Config, dir directory.Directory, sink audit.Sink) (*Service, *MemoryStore) {
	t.Helper()

	issuer, err := NewAccessTokenIssuer(cfg)
	if err != nil {
		t.Fatalf("NewAccessTokenIssuer: %v", err)
	}

	store := NewMemoryStore()
	svc, err := NewService(cfg, store, issuer, dir, sink)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func hasRole(claims Claims, want string) bool {
	switch roles := claims["roles"].(type) {
	case []string:
		for _, r := range roles {
			if r == want {
				return true
			}
		}
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func TestIssue_ReturnsPairAndPersistsOnlyHash(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	svc, store := newTestService(t, cfg, testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", Claims{"roles": []string{"user"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.CredentialID == "" || issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("Issue: expected non-empty tokens and credential id")
	}
	if !issued.RefreshExp.Equal(testNow.Add(cfg.RefreshTTL)) {
		t.Fatalf("RefreshExp = %v, want fixed window %v", issued.RefreshExp, testNow.Add(cfg.RefreshTTL))
	}

	claims, err := svc.VerifyAccessToken(issued.AccessToken, testNow.Add(time.Second))
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.SubjectID != "u-1" || claims.DisplayName != "Alice Example" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	rows := store.Snapshot()
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(rows))
	}
	if rows[0].TokenHash != token.HashSHA256Hex(issued.RefreshToken) {
		t.Fatalf("stored hash does not match hash of raw token")
	}
	if strings.Contains(rows[0].TokenHash, issued.RefreshToken) || rows[0].ID == issued.RefreshToken {
		t.Fatalf("raw token leaked into stored state")
	}
}

func TestRotate_SingleUse(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig(t), testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", Claims{"roles": []string{"user"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := svc.Rotate(ctx, testNow.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("rotation must mint a new raw token")
	}

	// The original token is terminal even though its successor is live.
	if _, err := svc.Rotate(ctx, testNow.Add(2*time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for reused token, got %v", err)
	}

	// The successor still rotates.
	if _, err := svc.Rotate(ctx, testNow.Add(3*time.Minute), rotated.RefreshToken); err != nil {
		t.Fatalf("successor Rotate: %v", err)
	}
}

func TestRotate_ChainIntegrity(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	svc, store := newTestService(t, cfg, testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotateAt := testNow.Add(time.Hour)
	rotated, err := svc.Rotate(ctx, rotateAt, issued.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	var old, successor *Credential
	for _, row := range store.Snapshot() {
		row := row
		switch row.ID {
		case issued.CredentialID:
			old = &row
		case rotated.CredentialID:
			successor = &row
		}
	}
	if old == nil || successor == nil {
		t.Fatalf("expected both chain rows in store")
	}

	if old.RevokedAt == nil || !old.RevokedAt.Equal(rotateAt) {
		t.Fatalf("old record must be revoked at rotation time, got %v", old.RevokedAt)
	}
	if old.ReplacedByTokenHash == nil || *old.ReplacedByTokenHash != token.HashSHA256Hex(rotated.RefreshToken) {
		t.Fatalf("old record must link to successor hash")
	}
	if successor.CreatedAt.Before(old.CreatedAt) {
		t.Fatalf("chain must be forward-only")
	}
	if !successor.ExpiresAt.Equal(rotateAt.Add(cfg.RefreshTTL)) {
		t.Fatalf("successor must get a fresh window, not inherit the old one")
	}
	if successor.RevokedAt != nil || successor.ReplacedByTokenHash != nil {
		t.Fatalf("successor must start live and unlinked")
	}
}

func TestRotate_Concurrent_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testConfig(t), testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Rotate(ctx, testNow.Add(time.Minute), issued.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, fail := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrInvalidOrExpiredToken):
			fail++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d losers, got %d", n-1, fail)
	}

	// Losers must not have inserted orphaned successors.
	if rows := store.Snapshot(); len(rows) != 2 {
		t.Fatalf("expected original + one successor, got %d rows", len(rows))
	}
}

func TestRotate_ExpiredCredential(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	after := testNow.Add(cfg.RefreshTTL + time.Second)
	if _, err := svc.Rotate(ctx, after, issued.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken past expiry, got %v", err)
	}
}

func TestRotate_CredentialExpiredAtBirth(t *testing.T) {
	t.Parallel()

	// Simulates clock skew producing an expiresAt in the past.
	cfg := testConfig(t)
	cfg.RefreshTTL = -time.Minute
	svc, _ := newTestService(t, cfg, testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Rotate(ctx, testNow, issued.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for already-expired credential, got %v", err)
	}
}

func TestRotate_RevokedCredential(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig(t), testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(ctx, testNow.Add(time.Minute), issued.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := svc.Rotate(ctx, testNow.Add(2*time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for revoked credential, got %v", err)
	}
}

func TestRotate_GarbageToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig(t), testDirectory("user"), audit.NopSink{})
	ctx := context.Background()

	for _, tok := range []string{"", "   ", "nonsense", strings.Repeat("x", maxPresentedTokenLen+1)} {
		if _, err := svc.Rotate(ctx, testNow, tok); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("token %q: expected ErrInvalidOrExpiredToken, got %v", tok[:min(len(tok), 16)], err)
		}
	}
}

func TestRotate_FreshClaims(t *testing.T) {
	t.Parallel()

	dir := testDirectory("user")
	svc, _ := newTestService(t, testConfig(t), dir, audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", Claims{"roles": []string{"user"}})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Role grant after issuance must show up on the next rotation.
	dir.Put(directory.User{ID: "u-1", DisplayName: "Alice Example", Roles: []string{"user", "admin"}})

	rotated, err := svc.Rotate(ctx, testNow.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	claims, err := svc.VerifyAccessToken(rotated.AccessToken, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if !hasRole(claims.Claims, "admin") {
		t.Fatalf("rotated access token must carry re-resolved roles, got %v", claims.Claims)
	}
}

func TestRotate_SubjectNoLongerResolves(t *testing.T) {
	t.Parallel()

	dir := testDirectory("user")
	svc, _ := newTestService(t, testConfig(t), dir, audit.NopSink{})
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	dir.Delete("u-1")

	if _, err := svc.Rotate(ctx, testNow.Add(time.Minute), issued.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for deleted subject, got %v", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	svc, store := newTestService(t, testConfig(t), testDirectory("user"), sink)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testNow, "u-1", "Alice Example", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, testNow.Add(time.Minute), issued.RefreshToken); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, testNow.Add(2*time.Minute), issued.RefreshToken); err != nil {
		t.Fatalf("second Revoke must also succeed, got %v", err)
	}

	revoked := 0
	for _, action := range sink.actions() {
		if action == audit.SessionRevoked {
			revoked++
		}
	}
	if revoked != 1 {
		t.Fatalf("expected exactly one revoked audit event, got %d", revoked)
	}

	rows := store.Snapshot()
	if len(rows) != 1 || rows[0].RevokedAt == nil {
		t.Fatalf("credential must be revoked exactly once")
	}
	if !rows[0].RevokedAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("revoked_at must keep the first revocation time")
	}
}

func TestRevoke_UnknownTokenSucceeds(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	svc, _ := newTestService(t, testConfig(t), testDirectory("user"), sink)

	if err := svc.Revoke(context.Background(), testNow, "never-issued"); err != nil {
		t.Fatalf("Revoke of unknown token must succeed, got %v", err)
	}
	if len(sink.actions()) != 0 {
		t.Fatalf("no-op revoke must not emit audit events")
	}
}

// dupStore forces Insert to report duplicate hashes a fixed number of times.
type dupStore struct {
	Store
	mu    sync.Mutex
	fails int
}

func (d *dupStore) Insert(ctx context.Context, cred Credential) error {
	d.mu.Lock()
	if d.fails > 0 {
		d.fails--
		d.mu.Unlock()
		return ErrDuplicateHash
	}
	d.mu.Unlock()
	return d.Store.Insert(ctx, cred)
}

func TestIssue_DuplicateHashRetriesOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	issuer, err := NewAccessTokenIssuer(cfg)
	if err != nil {
		t.Fatalf("NewAccessTokenIssuer: %v", err)
	}

	svcRetry, err := NewService(cfg, &dupStore{Store: NewMemoryStore(), fails: 1}, issuer, testDirectory("user"), audit.NopSink{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svcRetry.Issue(context.Background(), testNow, "u-1", "Alice Example", nil); err != nil {
		t.Fatalf("Issue must survive a single hash collision, got %v", err)
	}

	svcFatal, err := NewService(cfg, &dupStore{Store: NewMemoryStore(), fails: 2}, issuer, testDirectory("user"), audit.NopSink{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svcFatal.Issue(context.Background(), testNow, "u-1", "Alice Example", nil); !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("a second collision must be fatal, got %v", err)
	}
}

func TestStoreErrorsClassifyAsUnavailable(t *testing.T) {
	t.Parallel()

	err := storeFailure("postgres.insert", errors.New("connection refused"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("StoreError must unwrap to ErrStoreUnavailable")
	}
	if errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("infrastructure failures must stay distinguishable from logical failures")
	}
}
