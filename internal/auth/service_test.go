package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flextraff.org/internal/audit"
)

type fixture struct {
	store    *MemoryStore
	service  *Service
	admin    *Admin
	sink     *audit.MemorySink
	now      time.Time
	setClock func(time.Time)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	sink := audit.NewMemorySink()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	current := &now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *current
	}

	codec, err := NewTokenCodec([]byte(strings.Repeat("k", 32)), WithCodecClock(clock))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	recorder := audit.NewRecorder(sink, audit.WithClock(clock))
	service := NewService(store, codec, recorder, WithClock(clock))
	admin := NewAdmin(store, recorder, service, WithAdminClock(clock))

	return &fixture{
		store:   store,
		service: service,
		admin:   admin,
		sink:    sink,
		now:     now,
		setClock: func(at time.Time) {
			mu.Lock()
			defer mu.Unlock()
			*current = at
		},
	}
}

func (f *fixture) createUser(t *testing.T, handle, password string, role Role) *User {
	t.Helper()
	user, err := f.admin.CreateUser(context.Background(), NewUserInput{
		Handle:      handle,
		Password:    password,
		DisplayName: handle,
		Role:        role,
	}, "admin-1", ClientMeta{})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", handle, err)
	}
	return user
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleOperator)
	if err := f.admin.Grant(context.Background(), user.ID, 7, LevelOperator, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	pair, got, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("user = %s, want %s", got.ID, user.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if got.LastLoginAt == nil {
		t.Fatal("last login not recorded")
	}

	claims, err := f.service.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if len(claims.Junctions) != 1 || claims.Junctions[0].ID != 7 || claims.Junctions[0].Level != LevelOperator {
		t.Fatalf("snapshot = %+v", claims.Junctions)
	}
}

func TestAuthenticateFailureIsUniform(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	_, _, unknownErr := f.service.Authenticate(context.Background(), "nobody", "whatever", ClientMeta{})
	_, _, wrongErr := f.service.Authenticate(context.Background(), "alice", "wrong", ClientMeta{})

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown handle: %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", wrongErr)
	}
}

func TestAuthenticateInactive(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleOperator)
	if err := f.admin.Deactivate(context.Background(), user.ID, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// Correct password, disabled account.
	_, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("got %v, want ErrAccountInactive", err)
	}

	// Wrong password, disabled account: the account state decides first, so
	// the error kind does not reveal whether the password matched.
	_, _, err = f.service.Authenticate(context.Background(), "alice", "wrong", ClientMeta{})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("wrong password: got %v, want ErrAccountInactive", err)
	}
}

func TestAuthenticateMissingCredentialsAudited(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.Authenticate(context.Background(), "alice", "", ClientMeta{IP: "10.0.0.2"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}

	events := f.sink.Events()
	if len(events) != 1 || events[0].Action != audit.ActionLoginFailed {
		t.Fatalf("events = %+v, want exactly one login failure", events)
	}
	if events[0].Origin != "10.0.0.2" {
		t.Fatalf("origin = %q", events[0].Origin)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	f.setClock(f.now.Add(time.Minute))
	next, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.SessionID == pair.SessionID {
		t.Fatal("session not rotated")
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The consumed token is single-use.
	if _, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("reused token: %v, want ErrSessionRevoked", err)
	}

	// The new one works.
	if _, _, err := f.service.Refresh(context.Background(), next.RefreshToken, ClientMeta{}); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
}

func TestRefreshConcurrentSingleUse(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionRevoked):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 (losses %d)", wins, losses)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, _, err := f.service.Refresh(context.Background(), pair.AccessToken, ClientMeta{}); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("access token accepted for refresh: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	f.setClock(f.now.Add(8 * 24 * time.Hour))
	if _, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestRefreshAfterDeactivation(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := f.admin.Deactivate(context.Background(), user.ID, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// Deactivation revoked the session, so the rotation itself fails.
	if _, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("got %v, want ErrSessionRevoked", err)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := f.service.Logout(context.Background(), pair.RefreshToken, ClientMeta{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.service.Logout(context.Background(), pair.RefreshToken, ClientMeta{}); err != nil {
		t.Fatalf("second Logout: %v", err)
	}

	if _, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestRevokeSessionByID(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	pair, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := f.service.RevokeSession(context.Background(), pair.SessionID, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, _, err := f.service.Refresh(context.Background(), pair.RefreshToken, ClientMeta{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("refresh after revoke: %v, want ErrSessionRevoked", err)
	}

	// Revoking an already-dead or unknown session succeeds.
	if err := f.service.RevokeSession(context.Background(), pair.SessionID, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("second RevokeSession: %v", err)
	}
}

// hangStore simulates a backend that never answers user lookups.
type hangStore struct{ Store }

func (h hangStore) Users() UserStore { return hangUsers{h.Store.Users()} }

type hangUsers struct{ UserStore }

func (h hangUsers) FindByHandle(ctx context.Context, handle string) (*User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeoutSurfacesUnavailable(t *testing.T) {
	codec, err := NewTokenCodec([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	store := NewTimeoutStore(hangStore{NewMemoryStore()}, 5*time.Millisecond)
	service := NewService(store, codec, audit.NewRecorder(audit.NewMemorySink()))

	if _, _, err := service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	if _, _, err := f.service.Authenticate(context.Background(), "alice", "wrong", ClientMeta{IP: "10.0.0.9"}); err == nil {
		t.Fatal("expected login failure")
	}
	if _, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{IP: "10.0.0.9"}); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	var failed, succeeded bool
	for _, e := range f.sink.Events() {
		switch e.Action {
		case audit.ActionLoginFailed:
			failed = true
			if e.Origin != "10.0.0.9" {
				t.Fatalf("failure origin = %q", e.Origin)
			}
		case audit.ActionLogin:
			succeeded = true
		}
	}
	if !failed || !succeeded {
		t.Fatalf("audit trail incomplete: failed=%v succeeded=%v", failed, succeeded)
	}
}

func TestAdminLoginWithoutGrants(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "root", "s3cret-pass", RoleAdmin)

	pair, _, err := f.service.Authenticate(context.Background(), "root", "s3cret-pass", ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	claims, err := f.service.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if len(claims.Junctions) != 0 {
		t.Fatalf("admin snapshot should be empty, got %+v", claims.Junctions)
	}
	if d := Authorize(claims, 42, LevelOperator); !d.Allowed {
		t.Fatalf("admin denied: %+v", d)
	}
}
