package handler

import (
	"context"

	"github.com/hitoshi/moodbytes/internal/user"
)

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Withdraw は退会処理を実行し、削除結果をhandlerレスポンス型で返す。
func (a *UserServiceAdapter) Withdraw(ctx context.Context, userID string) (*withdrawResponse, error) {
	report, err := a.svc.Withdraw(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := &withdrawResponse{Deleted: true}
	if report != nil {
		resp.HistoryDeleted = report.HistoryDeleted
		resp.PurgeWarnings = report.Warnings()
	}
	return resp, nil
}
