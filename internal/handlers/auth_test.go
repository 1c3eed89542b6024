package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/podclip/backend/internal/models"
	"github.com/podclip/backend/internal/repositories"
)

type userStoreStub struct {
	users     map[string]models.User
	created   []models.User
	createErr error
}

func (s *userStoreStub) Create(ctx context.Context, user models.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, user)
	return nil
}

func (s *userStoreStub) FindByEmail(ctx context.Context, email string) (models.User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return models.User{}, repositories.ErrNotFound
}

type sessionManagerStub struct {
	tokens   models.SessionTokens
	issueErr error
	authUser string
	authErr  error
}

func (s *sessionManagerStub) Issue(ctx context.Context, userID string) (models.SessionTokens, error) {
	if s.issueErr != nil {
		return models.SessionTokens{}, s.issueErr
	}
	return s.tokens, nil
}

func (s *sessionManagerStub) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	return s.tokens, nil
}

func (s *sessionManagerStub) Authenticate(ctx context.Context, accessToken string) (string, error) {
	if s.authErr != nil {
		return "", s.authErr
	}
	return s.authUser, nil
}

func TestAuthHandlerSignUpGrantsStartingCredits(t *testing.T) {
	store := &userStoreStub{users: map[string]models.User{}}
	handler := AuthHandler{
		Users:           store,
		Sessions:        &sessionManagerStub{tokens: models.SessionTokens{AccessToken: "a", RefreshToken: "r"}},
		StartingCredits: 10,
		NowFunc: func() time.Time {
			return time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
		},
	}

	body, _ := json.Marshal(map[string]string{
		"email":    "new@example.com",
		"password": "longenough",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.SignUp(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusCreated)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 user created got %d", len(store.created))
	}
	if store.created[0].Credits != 10 {
		t.Fatalf("expected starting credits 10 got %d", store.created[0].Credits)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Credits != 10 {
		t.Fatalf("expected credits in response got %d", resp.Credits)
	}
}

func TestAuthHandlerSignUpExistingAccount(t *testing.T) {
	store := &userStoreStub{users: map[string]models.User{
		"taken@example.com": {ID: "user-1", Email: "taken@example.com"},
	}}
	handler := AuthHandler{Users: store, Sessions: &sessionManagerStub{}}

	body := bytes.NewBufferString(`{"email":"taken@example.com","password":"longenough"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", body)
	rec := httptest.NewRecorder()

	handler.SignUp(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusConflict)
	}
}

func TestAuthHandlerSignUpValidation(t *testing.T) {
	handler := AuthHandler{Users: &userStoreStub{users: map[string]models.User{}}, Sessions: &sessionManagerStub{}}

	cases := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrongMethod", http.MethodGet, `{"email":"a@b.com","password":"longenough"}`, http.StatusMethodNotAllowed},
		{"badJSON", http.MethodPost, "{", http.StatusBadRequest},
		{"missingFields", http.MethodPost, `{"email":"","password":""}`, http.StatusBadRequest},
		{"invalidEmail", http.MethodPost, `{"email":"not-an-email","password":"longenough"}`, http.StatusBadRequest},
		{"shortPassword", http.MethodPost, `{"email":"a@b.com","password":"short"}`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/auth/signup", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			handler.SignUp(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthHandlerLoginSuccess(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := &userStoreStub{users: map[string]models.User{
		"alex@example.com": {ID: "user-1", Email: "alex@example.com", Password: string(hashed), Credits: 4},
	}}
	handler := AuthHandler{
		Users:    store,
		Sessions: &sessionManagerStub{tokens: models.SessionTokens{AccessToken: "a", RefreshToken: "r"}},
	}

	body := bytes.NewBufferString(`{"email":"alex@example.com","password":"password123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Tokens.AccessToken != "a" || resp.Credits != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAuthHandlerLoginWrongPassword(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	store := &userStoreStub{users: map[string]models.User{
		"alex@example.com": {ID: "user-1", Email: "alex@example.com", Password: string(hashed)},
	}}
	handler := AuthHandler{Users: store, Sessions: &sessionManagerStub{}}

	body := bytes.NewBufferString(`{"email":"alex@example.com","password":"wrong-password"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
}

type limiterStub struct{ allow bool }

func (l limiterStub) Allow(key string) bool { return l.allow }

func TestAuthHandlerLoginRateLimited(t *testing.T) {
	handler := AuthHandler{
		Users:    &userStoreStub{users: map[string]models.User{}},
		Sessions: &sessionManagerStub{},
		Limiter:  limiterStub{allow: false},
	}

	body := bytes.NewBufferString(`{"email":"alex@example.com","password":"password123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rec := httptest.NewRecorder()

	handler.Login(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusTooManyRequests)
	}
}
