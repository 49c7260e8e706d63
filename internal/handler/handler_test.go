package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moodbytes/internal/auth"
	"github.com/hitoshi/moodbytes/internal/discovery"
	"github.com/hitoshi/moodbytes/internal/history"
	"github.com/hitoshi/moodbytes/internal/middleware"
	"github.com/hitoshi/moodbytes/internal/model"
)

// --- テストヘルパー ---

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withPrincipal はテスト用にコンテキストにプリンシパルを注入するヘルパー。
func withPrincipal(r *http.Request, p *model.Principal) *http.Request {
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), p))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeAPIError はレスポンスボディを統一エラーフォーマットとしてデコードする。
func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	oauthEnabled     bool
	signUpFn         func(ctx context.Context, email, password, displayName string) (*auth.Result, error)
	signInFn         func(ctx context.Context, email, password string) (*auth.Result, error)
	getLoginURLFn    func(state string) (string, error)
	handleCallbackFn func(ctx context.Context, code string) (*auth.Result, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) OAuthEnabled() bool { return m.oauthEnabled }

func (m *mockAuthService) SignUp(ctx context.Context, email, password, displayName string) (*auth.Result, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, displayName)
	}
	return nil, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) GetLoginURL(state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "", auth.ErrOAuthDisabled
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.Result, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, auth.ErrOAuthDisabled
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

// mockDiscoveryService はDiscoveryServiceInterfaceのモック実装。
type mockDiscoveryService struct {
	performSearchFn func(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate) (*discovery.SearchOutcome, error)
	placeDetailsFn  func(ctx context.Context, placeID string) (json.RawMessage, error)
	deleteFn        func(ctx context.Context, principalID, entryID string) history.DeleteOutcome
	navigated       []string
}

func (m *mockDiscoveryService) PerformSearch(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate) (*discovery.SearchOutcome, error) {
	if m.performSearchFn != nil {
		return m.performSearchFn(ctx, principalID, mood, coord)
	}
	return &discovery.SearchOutcome{Mood: mood}, nil
}

func (m *mockDiscoveryService) PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error) {
	if m.placeDetailsFn != nil {
		return m.placeDetailsFn(ctx, placeID)
	}
	return json.RawMessage(`{}`), nil
}

func (m *mockDiscoveryService) DeleteHistoryEntry(ctx context.Context, principalID, entryID string) history.DeleteOutcome {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, principalID, entryID)
	}
	return history.DeleteOutcome{Deleted: true, CounterUpdated: true}
}

func (m *mockDiscoveryService) NavigateToProfile(principalID string) {
	m.navigated = append(m.navigated, principalID)
}

// mockHistoryService はHistoryServiceInterfaceのモック実装。
type mockHistoryService struct {
	listWithCountFn func(ctx context.Context, principalID string, limit int) history.Page
	byMoodFn        func(ctx context.Context, principalID string, mood model.Mood) []*model.SearchHistoryEntry
}

func (m *mockHistoryService) ListWithCount(ctx context.Context, principalID string, limit int) history.Page {
	if m.listWithCountFn != nil {
		return m.listWithCountFn(ctx, principalID, limit)
	}
	return history.Page{Items: []*model.SearchHistoryEntry{}}
}

func (m *mockHistoryService) ByMood(ctx context.Context, principalID string, mood model.Mood) []*model.SearchHistoryEntry {
	if m.byMoodFn != nil {
		return m.byMoodFn(ctx, principalID, mood)
	}
	return []*model.SearchHistoryEntry{}
}

// mockProfileService はProfileServiceInterfaceのモック実装。
type mockProfileService struct {
	getFn func(ctx context.Context, principalID string) (*model.UserProfile, error)
}

func (m *mockProfileService) Get(ctx context.Context, principalID string) (*model.UserProfile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, principalID)
	}
	return nil, nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) (*withdrawResponse, error)
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) (*withdrawResponse, error) {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return &withdrawResponse{Deleted: true}, nil
}
