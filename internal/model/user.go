// Package model はドメインモデルを定義する。
package model

import "time"

// Principal は認証済みの利用者を表す。
// IDはアカウントごとに不変。
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"-"`
}

// UserProfile はプリンシパルごとに1件存在するプロフィールを表す。
// TotalSearchesは常に0以上。
type UserProfile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	PhotoURL      string    `json:"photoURL"`
	CreatedAt     time.Time `json:"createdAt"`
	LastLoginAt   time.Time `json:"lastLoginAt"`
	TotalSearches int       `json:"totalSearches"`
	FavoriteMoods []string  `json:"favoriteMoods"`
}

// Identity は認証プロバイダー上のアカウントを表す。
// provider="password" の場合、ProviderUserIDは正規化済みメールアドレス。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
	PhotoURL       string
	SecretHash     string // パスワード認証時のbcryptハッシュ
	CreatedAt      time.Time
}

// Principal はIdentityからプリンシパルを組み立てる。
func (i *Identity) Principal() *Principal {
	return &Principal{
		ID:          i.UserID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		PhotoURL:    i.PhotoURL,
	}
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
