package auth

import (
	"context"
	"errors"
	"testing"

	"flextraff.org/internal/audit"
)

func TestCreateUserDuplicateHandle(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	_, err := f.admin.CreateUser(context.Background(), NewUserInput{
		Handle:   "alice",
		Password: "other-pass",
		Role:     RoleObserver,
	}, "admin-1", ClientMeta{})
	if !errors.Is(err, ErrDuplicateHandle) {
		t.Fatalf("got %v, want ErrDuplicateHandle", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	cases := []NewUserInput{
		{Handle: "", Password: "pass", Role: RoleOperator},
		{Handle: "bob", Password: "", Role: RoleOperator},
		{Handle: "bob", Password: "pass", Role: Role("WIZARD")},
	}
	for _, in := range cases {
		if _, err := f.admin.CreateUser(context.Background(), in, "admin-1", ClientMeta{}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("CreateUser(%+v) = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestUpdateUserPatch(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)

	name := "Alice A."
	role := RoleOperator
	updated, err := f.admin.UpdateUser(context.Background(), user.ID, UserPatch{
		DisplayName: &name,
		Role:        &role,
	}, "admin-1", ClientMeta{})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.DisplayName != "Alice A." || updated.Role != RoleOperator {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Handle != "alice" || !updated.Active {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
}

func TestUpdateUserNotFound(t *testing.T) {
	f := newFixture(t)
	name := "x"
	if _, err := f.admin.UpdateUser(context.Background(), "missing", UserPatch{DisplayName: &name}, "admin-1", ClientMeta{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReactivation(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	if err := f.admin.Deactivate(context.Background(), user.ID, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	active := true
	if _, err := f.admin.UpdateUser(context.Background(), user.ID, UserPatch{Active: &active}, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, _, err := f.service.Authenticate(context.Background(), "alice", "s3cret-pass", ClientMeta{}); err != nil {
		t.Fatalf("login after reactivation: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "old-password", RoleOperator)

	if err := f.admin.ChangePassword(context.Background(), user.ID, "new-password", "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := f.service.Authenticate(context.Background(), "alice", "old-password", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, _, err := f.service.Authenticate(context.Background(), "alice", "new-password", ClientMeta{}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestGrantOverwrites(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)
	ctx := context.Background()

	if err := f.admin.Grant(ctx, user.ID, 5, LevelObserver, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := f.admin.Grant(ctx, user.ID, 5, LevelOperator, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("re-grant: %v", err)
	}

	grants, err := f.admin.ListGrants(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 1 || grants[0].Level != LevelOperator {
		t.Fatalf("grants = %+v, want single OPERATOR", grants)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)
	ctx := context.Background()

	if err := f.admin.Revoke(ctx, user.ID, 99, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("revoking absent grant: %v", err)
	}
}

func TestBulkGrantPartialFailure(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)
	ctx := context.Background()

	result, err := f.admin.BulkGrant(ctx, user.ID, []int64{1, -2, 3}, LevelObserver, "admin-1", ClientMeta{})
	if err != nil {
		t.Fatalf("BulkGrant: %v", err)
	}
	if len(result.Succeeded) != 2 || result.Succeeded[0] != 1 || result.Succeeded[1] != 3 {
		t.Fatalf("Succeeded = %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].JunctionID != -2 {
		t.Fatalf("Failed = %v", result.Failed)
	}

	// Valid rows landed despite the bad one.
	grants, err := f.admin.ListGrants(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants = %+v", grants)
	}
}

func TestBulkGrantSingleAuditEvent(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)

	before := len(f.sink.Events())
	if _, err := f.admin.BulkGrant(context.Background(), user.ID, []int64{1, 2, 3}, LevelOperator, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("BulkGrant: %v", err)
	}

	var bulk []audit.Event
	for _, e := range f.sink.Events()[before:] {
		if e.Action == audit.ActionGrantBulkAdd {
			bulk = append(bulk, e)
		}
	}
	if len(bulk) != 1 {
		t.Fatalf("bulk events = %d, want 1", len(bulk))
	}
	succeeded, ok := bulk[0].Detail["succeeded"].([]int64)
	if !ok || len(succeeded) != 3 {
		t.Fatalf("bulk event detail = %+v", bulk[0].Detail)
	}
}

func TestBulkRevoke(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleObserver)
	ctx := context.Background()

	if _, err := f.admin.BulkGrant(ctx, user.ID, []int64{1, 2, 3}, LevelObserver, "admin-1", ClientMeta{}); err != nil {
		t.Fatalf("BulkGrant: %v", err)
	}
	result, err := f.admin.BulkRevoke(ctx, user.ID, []int64{1, 3, 42}, "admin-1", ClientMeta{})
	if err != nil {
		t.Fatalf("BulkRevoke: %v", err)
	}
	// Revoking an absent grant is idempotent, so 42 also succeeds.
	if len(result.Succeeded) != 3 || len(result.Failed) != 0 {
		t.Fatalf("result = %+v", result)
	}

	grants, err := f.admin.ListGrants(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 1 || grants[0].JunctionID != 2 {
		t.Fatalf("grants = %+v", grants)
	}
}

func TestBulkGrantUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.admin.BulkGrant(context.Background(), "missing", []int64{1}, LevelObserver, "admin-1", ClientMeta{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListUsersPagination(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "a", "password-1", RoleObserver)
	f.createUser(t, "b", "password-2", RoleObserver)
	f.createUser(t, "c", "password-3", RoleObserver)

	page, total, err := f.admin.ListUsers(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(page) != 2 {
		t.Fatalf("page = %d users, want 2", len(page))
	}

	rest, total, err := f.admin.ListUsers(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("ListUsers offset: %v", err)
	}
	if total != 3 || len(rest) != 1 {
		t.Fatalf("second page: total=%d len=%d", total, len(rest))
	}
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "s3cret-pass", RoleOperator)

	got, err := f.admin.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Handle != "alice" {
		t.Fatalf("handle = %q", got.Handle)
	}
	if _, err := f.admin.GetUser(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
