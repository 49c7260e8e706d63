package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// ProviderGoogle はGoogleサインインのプロバイダー名。
	ProviderGoogle = "google"

	maxGoogleResponseSize = 1 << 20
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
// AuthURL等はテストでの差し替え用で、空なら本番のエンドポイントを使う。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// GoogleOAuthProvider は認可コードフローでGoogleアカウントのプロフィールを取得する。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
}

func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &GoogleOAuthProvider{config: config}
}

// GetLoginURL は同意画面へのURLを返す。
// 複数アカウントを持つ端末でも選び直せるよう select_account を指定する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"access_type":   {"online"},
		"prompt":        {"select_account"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換し、
// プロフィールの表示名・メール・写真URLを取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	token, err := p.doJSON(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	accessToken := token.Get("access_token").String()
	if accessToken == "" {
		return nil, fmt.Errorf("failed to exchange token: empty access token")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	info, err := p.doJSON(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	sub := info.Get("sub").String()
	if sub == "" {
		return nil, fmt.Errorf("failed to fetch user info: empty sub")
	}

	return &OAuthUserInfo{
		ProviderUserID: sub,
		Email:          info.Get("email").String(),
		Name:           info.Get("name").String(),
		PhotoURL:       info.Get("picture").String(),
		Provider:       ProviderGoogle,
	}, nil
}

// doJSON はリクエストを送り、200以外ならGoogleのerrorコードを含むエラーを返す。
// レスポンス本文はトークンを含みうるのでエラーメッセージに載せない。
func (p *GoogleOAuthProvider) doJSON(req *http.Request) (gjson.Result, error) {
	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGoogleResponseSize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if code := gjson.GetBytes(body, "error").String(); code != "" {
			return gjson.Result{}, fmt.Errorf("status %d: %s", resp.StatusCode, code)
		}
		return gjson.Result{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response")
	}
	return gjson.ParseBytes(body), nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
