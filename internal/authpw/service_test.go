package authpw

import (
	"context"
	"database/sql"
	"testing"

	"flowboard/api/internal/region"
	"flowboard/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	usersByID    map[string]store.User
	profiles     map[string]store.Profile
	ensureCalls  int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		usersByID:    map[string]store.User{},
		profiles:     map[string]store.Profile{},
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.usersByID[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.usersByEmail[user.Email] = user
	f.usersByID[user.ID] = user
	return nil
}

func (f *fakeUserStore) EnsureProfile(_ context.Context, userID, defaultRegion string) (store.Profile, error) {
	f.ensureCalls++
	if profile, ok := f.profiles[userID]; ok {
		return profile, nil
	}
	profile := store.Profile{UserID: userID, Region: defaultRegion}
	f.profiles[userID] = profile
	return profile, nil
}

func newTestService(fs *fakeUserStore) *Service {
	return NewService(fs, region.Default(), "KST")
}

func TestSignUpProvisionsProfile(t *testing.T) {
	fs := newFakeUserStore()
	svc := newTestService(fs)

	user, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "Aliya@Example.com",
		Password:    "correct horse",
		DisplayName: "Aliya",
		Region:      "PAV",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.Email != "aliya@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Region != "PAV" {
		t.Fatalf("expected region PAV, got %q", user.Region)
	}
	profile, ok := fs.profiles[user.ID]
	if !ok {
		t.Fatal("sign-up must create the access profile")
	}
	if profile.Region != "PAV" {
		t.Fatalf("expected profile region PAV, got %q", profile.Region)
	}
}

func TestSignUpRejectsUnknownRegion(t *testing.T) {
	svc := newTestService(newFakeUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "a@example.com",
		Password:    "long enough",
		DisplayName: "A",
		Region:      "ZZZ",
	})
	if err == nil {
		t.Fatal("expected error for unknown region")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	svc := newTestService(fs)

	req := SignUpRequest{Email: "a@example.com", Password: "long enough", DisplayName: "A", Region: "KST"}
	if _, err := svc.SignUp(context.Background(), req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(context.Background(), req); err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestSignInVerifiesPassword(t *testing.T) {
	fs := newFakeUserStore()
	svc := newTestService(fs)

	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "a@example.com", Password: "long enough", DisplayName: "A", Region: "AKM",
	}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	user, err := svc.SignIn(context.Background(), SignInRequest{Email: "a@example.com", Password: "long enough"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.Region != "AKM" {
		t.Fatalf("expected profile region AKM, got %q", user.Region)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "a@example.com", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestResolveRepairsMissingProfile(t *testing.T) {
	fs := newFakeUserStore()
	svc := newTestService(fs)

	hash, err := bcrypt.GenerateFromPassword([]byte("irrelevant"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	// A user created outside the provisioning flow, with no profile row.
	orphan := store.User{ID: "usr_orphan", Email: "o@example.com", DisplayName: "O", PasswordHash: string(hash)}
	fs.usersByEmail[orphan.Email] = orphan
	fs.usersByID[orphan.ID] = orphan

	user, err := svc.Resolve(context.Background(), orphan.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if user.Region != "KST" {
		t.Fatalf("expected repaired profile to use default region KST, got %q", user.Region)
	}
	if _, ok := fs.profiles[orphan.ID]; !ok {
		t.Fatal("Resolve must create the missing profile")
	}

	// A second resolve is idempotent: the existing profile is reused.
	before := fs.ensureCalls
	if _, err := svc.Resolve(context.Background(), orphan.ID); err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if fs.ensureCalls != before+1 {
		t.Fatalf("expected exactly one more EnsureProfile call, got %d", fs.ensureCalls-before)
	}
	if fs.profiles[orphan.ID].Region != "KST" {
		t.Fatalf("profile region must be stable across repairs")
	}
}
