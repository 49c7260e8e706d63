// Package auth はサインアップ・サインイン（メールアドレス／Google OAuth）とセッション発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/repository"
)

// bcryptの入力上限（バイト）
const maxPasswordBytes = 72

// ErrOAuthDisabled はGoogleサインインが設定されていないことを示す。
var ErrOAuthDisabled = errors.New("oauth provider is not configured")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	PhotoURL       string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// SessionResolver はセッションの状態遷移を受け取るインターフェース。
// session.Coordinatorが実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, key string, principal *model.Principal)
	SignOut(ctx context.Context, key string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge     int           // セッション有効期間（秒）
	MinPasswordLength int           // 0の場合はDefaultMinPasswordLength
	MaxFailedAttempts int           // 0の場合は5
	AttemptWindow     time.Duration // 0の場合は15分
	BcryptCost        int           // 0の場合はbcrypt.DefaultCost
}

// Result はサインイン成功時に返すセッションとプリンシパル。
type Result struct {
	Session   *model.Session
	Principal *model.Principal
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	resolver    SessionResolver
	attempts    *attemptLimiter
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。oauthがnilの場合Googleサインインは無効。
func NewService(
	oauth OAuthProvider,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	resolver SessionResolver,
	config ServiceConfig,
) *Service {
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = DefaultMinPasswordLength
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = 5
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = 15 * time.Minute
	}
	return &Service{
		oauth:       oauth,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		resolver:    resolver,
		attempts:    newAttemptLimiter(config.MaxFailedAttempts, config.AttemptWindow),
		config:      config,
		now:         time.Now,
	}
}

// OAuthEnabled はGoogleサインインが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// SignUp はメールアドレスとパスワードでアカウントを作成し、サインインする。
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len([]rune(password)) < s.config.MinPasswordLength {
		return nil, model.NewWeakPasswordError(s.config.MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return nil, model.NewInvalidRequestError("パスワードが長すぎます")
	}

	existing, err := s.identRepo.FindByProviderAndProviderUserID(ctx, ProviderPassword, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyInUseError()
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         uuid.New().String(),
		Provider:       ProviderPassword,
		ProviderUserID: email,
		Email:          email,
		DisplayName:    strings.TrimSpace(displayName),
		SecretHash:     hash,
		CreatedAt:      s.now(),
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdentity) {
			return nil, model.NewEmailAlreadyInUseError()
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", identity.UserID),
		slog.String("provider", ProviderPassword),
	)

	return s.signIn(ctx, identity.Principal())
}

// SignIn はメールアドレスとパスワードでサインインする。
// 未登録のメールアドレスと誤ったパスワードはどちらもINVALID_CREDENTIALSとなる。
// 同一メールアドレスの失敗が続いた場合はTOO_MANY_ATTEMPTSとなる。
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if s.attempts.Blocked(email) {
		slog.Warn("sign-in blocked by failed attempts", slog.String("email", email))
		return nil, model.NewTooManyAttemptsError()
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, ProviderPassword, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		s.attempts.Fail(email)
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := verifyPassword(identity.SecretHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.attempts.Fail(email)
		return nil, model.NewInvalidCredentialsError()
	}
	s.attempts.Reset(email)

	slog.Info("existing user logged in",
		slog.String("user_id", identity.UserID),
		slog.String("provider", ProviderPassword),
	)

	return s.signIn(ctx, identity.Principal())
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はidentityを作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*Result, error) {
	if s.oauth == nil {
		return nil, ErrOAuthDisabled
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identityで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		identity = &model.Identity{
			ID:             uuid.New().String(),
			UserID:         uuid.New().String(),
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			Email:          userInfo.Email,
			DisplayName:    userInfo.Name,
			PhotoURL:       userInfo.PhotoURL,
			CreatedAt:      s.now(),
		}
		if err := s.identRepo.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", identity.UserID),
			slog.String("provider", userInfo.Provider),
		)
	}

	// プロバイダー側の最新の表示名・写真をidentityにも保存し、
	// セッションの引き直しで古い表示名に戻らないようにする
	name, photo := identity.DisplayName, identity.PhotoURL
	if userInfo.Name != "" {
		name = userInfo.Name
	}
	if userInfo.PhotoURL != "" {
		photo = userInfo.PhotoURL
	}
	if name != identity.DisplayName || photo != identity.PhotoURL {
		if err := s.identRepo.UpdateProfile(ctx, identity.ID, name, photo); err != nil {
			slog.Warn("failed to update identity profile",
				slog.String("user_id", identity.UserID),
				slog.String("error", err.Error()),
			)
		}
		identity.DisplayName, identity.PhotoURL = name, photo
	}

	return s.signIn(ctx, identity.Principal())
}

// Logout はセッションを破棄し、SignedOutに遷移させる。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.resolver.SignOut(ctx, sessionID)

	slog.Info("user logged out")
	return nil
}

// signIn はセッションを発行し、SignedInに遷移させる。
func (s *Service) signIn(ctx context.Context, principal *model.Principal) (*Result, error) {
	session, err := s.createSession(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.resolver.Resolve(ctx, session.ID, principal)
	return &Result{Session: session, Principal: principal}, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
