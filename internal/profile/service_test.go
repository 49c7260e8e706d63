package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/moodbytes/internal/model"
)

// --- インメモリフェイク ---

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.UserProfile

	adjustErr error
	deleteErr error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[string]*model.UserProfile{}}
}

func (f *fakeProfileRepo) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfileRepo) Create(ctx context.Context, p *model.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.ID] = &cp
	return nil
}

func (f *fakeProfileRepo) UpdateLogin(ctx context.Context, id string, lastLoginAt time.Time, displayName, photoURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil
	}
	p.LastLoginAt = lastLoginAt
	if displayName != "" {
		p.DisplayName = displayName
	}
	if photoURL != "" {
		p.PhotoURL = photoURL
	}
	return nil
}

func (f *fakeProfileRepo) AdjustSearchCount(ctx context.Context, id string, delta int) (bool, error) {
	if f.adjustErr != nil {
		return false, f.adjustErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return false, nil
	}
	p.TotalSearches = max(p.TotalSearches+delta, 0)
	return true, nil
}

func (f *fakeProfileRepo) DeleteByID(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, id)
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[string][]string

	listErr  error
	failIDs  map[string]bool
	inflight int
	peak     int
}

func (f *fakeHistory) ListIDsByPrincipal(ctx context.Context, principalID string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.entries[principalID]...), nil
}

func (f *fakeHistory) Delete(ctx context.Context, principalID, entryID string) (bool, error) {
	f.mu.Lock()
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if f.failIDs[entryID] {
		return false, errors.New("store unavailable")
	}
	ids := f.entries[principalID]
	for i, id := range ids {
		if id == entryID {
			f.entries[principalID] = append(ids[:i], ids[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func newTestService(repo *fakeProfileRepo, hist *fakeHistory) *Service {
	if hist == nil {
		hist = &fakeHistory{entries: map[string][]string{}}
	}
	return NewService(repo, hist, nil, nil, 2)
}

// --- テスト ---

func TestService_EnsureProfile_CreatesNewProfile(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := newTestService(repo, nil)

	err := svc.EnsureProfile(context.Background(), &model.Principal{
		ID: "u1", Email: "u1@example.com", DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}

	p, _ := svc.Get(context.Background(), "u1")
	if p == nil {
		t.Fatal("プロフィールが作成されていない")
	}
	if p.TotalSearches != 0 {
		t.Errorf("TotalSearches = %d, want 0", p.TotalSearches)
	}
	if p.FavoriteMoods == nil || len(p.FavoriteMoods) != 0 {
		t.Errorf("FavoriteMoods = %v, want empty", p.FavoriteMoods)
	}
	if !p.CreatedAt.Equal(p.LastLoginAt) {
		t.Error("初回作成時は CreatedAt と LastLoginAt が一致すること")
	}
}

// TestService_EnsureProfile_SecondCallUpdatesLoginOnly は2回目の呼び出しで
// lastLoginAt のみ更新され、createdAt と totalSearches が変わらないことを検証する。
func TestService_EnsureProfile_SecondCallUpdatesLoginOnly(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := newTestService(repo, nil)

	first := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)

	svc.now = func() time.Time { return first }
	principal := &model.Principal{ID: "u1", DisplayName: "Alice", PhotoURL: "https://example.com/a.png"}
	if err := svc.EnsureProfile(context.Background(), principal); err != nil {
		t.Fatalf("EnsureProfile(1): %v", err)
	}
	svc.IncrementSearchCount(context.Background(), "u1")

	svc.now = func() time.Time { return second }
	if err := svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"}); err != nil {
		t.Fatalf("EnsureProfile(2): %v", err)
	}

	p, _ := svc.Get(context.Background(), "u1")
	if !p.CreatedAt.Equal(first) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, first)
	}
	if !p.LastLoginAt.Equal(second) {
		t.Errorf("LastLoginAt = %v, want %v", p.LastLoginAt, second)
	}
	if p.TotalSearches != 1 {
		t.Errorf("TotalSearches = %d, want 1", p.TotalSearches)
	}
	// 空の値では上書きしない
	if p.DisplayName != "Alice" || p.PhotoURL != "https://example.com/a.png" {
		t.Errorf("表示名・写真URLが維持されていない: %+v", p)
	}
}

func TestService_EnsureProfile_NoPrincipal(t *testing.T) {
	svc := newTestService(newFakeProfileRepo(), nil)

	err := svc.EnsureProfile(context.Background(), nil)
	if !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestService_DecrementSearchCount_FloorsAtZero(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := newTestService(repo, nil)
	_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})

	if !svc.DecrementSearchCount(context.Background(), "u1") {
		t.Fatal("DecrementSearchCount should succeed when profile exists")
	}
	p, _ := svc.Get(context.Background(), "u1")
	if p.TotalSearches != 0 {
		t.Errorf("TotalSearches = %d, want 0", p.TotalSearches)
	}
}

func TestService_IncrementThenDecrement_RoundTrip(t *testing.T) {
	repo := newFakeProfileRepo()
	svc := newTestService(repo, nil)
	_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})
	svc.IncrementSearchCount(context.Background(), "u1")
	svc.IncrementSearchCount(context.Background(), "u1")

	before, _ := svc.Get(context.Background(), "u1")
	svc.IncrementSearchCount(context.Background(), "u1")
	svc.DecrementSearchCount(context.Background(), "u1")
	after, _ := svc.Get(context.Background(), "u1")

	if before.TotalSearches != after.TotalSearches {
		t.Errorf("round trip changed counter: %d -> %d", before.TotalSearches, after.TotalSearches)
	}
}

func TestService_AdjustSearchCount_Failures(t *testing.T) {
	tests := []struct {
		name      string
		seed      bool
		adjustErr error
	}{
		{name: "プロフィールなし", seed: false},
		{name: "ストアエラー", seed: true, adjustErr: errors.New("timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeProfileRepo()
			repo.adjustErr = tt.adjustErr
			svc := newTestService(repo, nil)
			if tt.seed {
				_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})
			}

			if svc.IncrementSearchCount(context.Background(), "u1") {
				t.Error("IncrementSearchCount should return false")
			}
			if svc.DecrementSearchCount(context.Background(), "u1") {
				t.Error("DecrementSearchCount should return false")
			}
		})
	}
}

// TestService_DeleteProfileAndAllHistory は3件の履歴を持つユーザーを削除すると
// 履歴とプロフィールが共に消えることを検証する。
func TestService_DeleteProfileAndAllHistory(t *testing.T) {
	repo := newFakeProfileRepo()
	hist := &fakeHistory{entries: map[string][]string{
		"u1": {"h1", "h2", "h3"},
		"u2": {"h4"},
	}}
	svc := newTestService(repo, hist)
	_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})

	report, err := svc.DeleteProfileAndAllHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("DeleteProfileAndAllHistory: %v", err)
	}
	if report.HistoryDeleted != 3 || report.Warnings() != 0 {
		t.Errorf("report = %+v", report)
	}

	if ids, _ := hist.ListIDsByPrincipal(context.Background(), "u1"); len(ids) != 0 {
		t.Errorf("履歴が残っている: %v", ids)
	}
	if ids, _ := hist.ListIDsByPrincipal(context.Background(), "u2"); len(ids) != 1 {
		t.Errorf("他ユーザーの履歴が削除された: %v", ids)
	}
	if p, _ := svc.Get(context.Background(), "u1"); p != nil {
		t.Error("プロフィールが残っている")
	}
	if hist.peak > 2 {
		t.Errorf("並行削除数が上限を超えた: peak = %d", hist.peak)
	}
}

func TestService_DeleteProfileAndAllHistory_PartialFailureContinues(t *testing.T) {
	repo := newFakeProfileRepo()
	hist := &fakeHistory{
		entries: map[string][]string{"u1": {"h1", "h2", "h3"}},
		failIDs: map[string]bool{"h2": true},
	}
	svc := newTestService(repo, hist)
	_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})

	report, err := svc.DeleteProfileAndAllHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("DeleteProfileAndAllHistory: %v", err)
	}
	if report.HistoryDeleted != 2 || report.HistoryFailed != 1 {
		t.Errorf("report = %+v, want deleted=2 failed=1", report)
	}
	if report.Warnings() != 1 {
		t.Errorf("Warnings() = %d, want 1", report.Warnings())
	}
	if p, _ := svc.Get(context.Background(), "u1"); p != nil {
		t.Error("履歴削除が一部失敗してもプロフィールは削除されること")
	}
}

func TestService_DeleteProfileAndAllHistory_ListFailure(t *testing.T) {
	repo := newFakeProfileRepo()
	hist := &fakeHistory{listErr: errors.New("permission denied")}
	svc := newTestService(repo, hist)
	_ = svc.EnsureProfile(context.Background(), &model.Principal{ID: "u1"})

	report, err := svc.DeleteProfileAndAllHistory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("DeleteProfileAndAllHistory: %v", err)
	}
	if !report.ListFailed {
		t.Error("ListFailed should be true")
	}
	if p, _ := svc.Get(context.Background(), "u1"); p != nil {
		t.Error("プロフィールが残っている")
	}
}

func TestService_DeleteProfileAndAllHistory_ProfileDeleteError(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.deleteErr = errors.New("db down")
	svc := newTestService(repo, nil)

	if _, err := svc.DeleteProfileAndAllHistory(context.Background(), "u1"); err == nil {
		t.Error("expected error when profile delete fails")
	}
}
