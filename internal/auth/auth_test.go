package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// probeFailBackend fails every lookup by email.
type probeFailBackend struct {
	*MemoryBackend
	err error
}

func (p probeFailBackend) GetAccountByEmail(context.Context, string) (*Account, error) {
	return nil, p.err
}

func newTestService(b Backend) *Service {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewService(b, WithHashCost(bcrypt.MinCost), WithClock(func() time.Time { return fixed }))
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryBackend())

	a, err := svc.CreateUser(ctx, " Ann@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if a.UID == "" || a.Email != "ann@example.com" {
		t.Errorf("account = %+v", a)
	}
	if a.EmailVerified || a.Disabled {
		t.Errorf("new account should be unverified and enabled: %+v", a)
	}
	if a.PasswordHash == "secret1" {
		t.Error("password stored in plain text")
	}

	if _, err := svc.CreateUser(ctx, "ann@example.com", "another1"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("second CreateUser error = %v, want ErrEmailTaken", err)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newTestService(NewMemoryBackend())
	for _, tc := range []struct {
		email, password string
		want            error
	}{
		{"not-an-email", "secret1", ErrInvalidEmail},
		{"Bob <bob@example.com>", "secret1", ErrInvalidEmail},
		{"bob@example.com", "123", ErrWeakPassword},
	} {
		if _, err := svc.CreateUser(context.Background(), tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Errorf("CreateUser(%q, %q) error = %v, want %v", tc.email, tc.password, err, tc.want)
		}
	}
}

func TestAssertEmailNotTaken_ProbeFailureIsNotTaken(t *testing.T) {
	b := probeFailBackend{NewMemoryBackend(), errors.New("network down")}
	if err := newTestService(b).AssertEmailNotTaken(context.Background(), "x@example.com"); err != nil {
		t.Errorf("AssertEmailNotTaken = %v, want nil", err)
	}
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryBackend())
	a, _ := svc.CreateUser(ctx, "ann@example.com", "secret1")
	b, _ := svc.CreateUser(ctx, "bob@example.com", "secret1")

	verified := true
	name := "Ann"
	got, err := svc.UpdateUser(ctx, a.UID, Update{EmailVerified: &verified, DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if !got.EmailVerified || got.DisplayName != "Ann" {
		t.Errorf("updated = %+v", got)
	}

	taken := "ann@example.com"
	if _, err := svc.UpdateUser(ctx, b.UID, Update{Email: &taken}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("UpdateUser to taken email error = %v, want ErrEmailTaken", err)
	}

	pw := "newsecret"
	if _, err := svc.UpdateUser(ctx, b.UID, Update{Password: &pw}); err != nil {
		t.Fatalf("UpdateUser password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "bob@example.com", "newsecret"); err != nil {
		t.Errorf("Authenticate with new password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "bob@example.com", "secret1"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Authenticate with old password error = %v, want ErrWrongPassword", err)
	}

	if _, err := svc.UpdateUser(ctx, "missing", Update{}); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("UpdateUser(missing) error = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryBackend())
	a, _ := svc.CreateUser(ctx, "ann@example.com", "secret1")

	if err := svc.DeleteUser(ctx, a.UID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.GetUserByEmail(ctx, "ann@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("GetUserByEmail after delete error = %v, want ErrAccountNotFound", err)
	}
	if err := svc.DeleteUser(ctx, a.UID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("second DeleteUser error = %v, want ErrAccountNotFound", err)
	}
}

func TestAuthenticate_Disabled(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryBackend())
	a, _ := svc.CreateUser(ctx, "ann@example.com", "secret1")
	disabled := true
	svc.UpdateUser(ctx, a.UID, Update{Disabled: &disabled})

	if _, err := svc.Authenticate(ctx, "ann@example.com", "secret1"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("Authenticate error = %v, want ErrAccountDisabled", err)
	}
}
