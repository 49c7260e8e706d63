package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/moodbytes/internal/middleware"
	"github.com/hitoshi/moodbytes/internal/model"
)

func TestProfileHandler_GetProfile_NotifiesAndReturnsProfile(t *testing.T) {
	nav := &mockDiscoveryService{}
	svc := &mockProfileService{
		getFn: func(ctx context.Context, principalID string) (*model.UserProfile, error) {
			return &model.UserProfile{ID: principalID, Email: "a@example.com", TotalSearches: 3, FavoriteMoods: []string{}}, nil
		},
	}
	h := NewProfileHandler(svc, nav)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "user-1")
	w := httptest.NewRecorder()
	h.GetProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got model.UserProfile
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.TotalSearches != 3 {
		t.Errorf("totalSearches = %d, want 3", got.TotalSearches)
	}
	if len(nav.navigated) != 1 || nav.navigated[0] != "user-1" {
		t.Errorf("navigated = %v, want [user-1]", nav.navigated)
	}
}

func TestProfileHandler_GetProfile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		profile    *model.UserProfile
		err        error
		wantStatus int
	}{
		{name: "missing profile", wantStatus: http.StatusNotFound},
		{name: "store failure", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := &mockDiscoveryService{}
			svc := &mockProfileService{
				getFn: func(ctx context.Context, principalID string) (*model.UserProfile, error) {
					return tt.profile, tt.err
				},
			}
			h := NewProfileHandler(svc, nav)

			req := withUserID(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "user-1")
			w := httptest.NewRecorder()
			h.GetProfile(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			// 取得に失敗しても遷移の通知は発行される
			if len(nav.navigated) != 1 {
				t.Errorf("navigated = %v, want one notification", nav.navigated)
			}
		})
	}
}

func TestUserHandler_Withdraw_Success(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) (*withdrawResponse, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			return &withdrawResponse{Deleted: true, HistoryDeleted: 4, PurgeWarnings: 1}, nil
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "user-123")
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got withdrawResponse
	json.NewDecoder(w.Body).Decode(&got)
	if !got.Deleted || got.HistoryDeleted != 4 || got.PurgeWarnings != 1 {
		t.Errorf("response = %+v", got)
	}
	if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}
}

func TestUserHandler_Withdraw_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, testAuthConfig())

	w := httptest.NewRecorder()
	h.Withdraw(w, httptest.NewRequest(http.MethodDelete, "/api/users/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_Withdraw_UserNotFound(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) (*withdrawResponse, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/api/users/me", nil), "user-x")
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeAPIError(t, w); body.Code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUserNotFound)
	}
}
