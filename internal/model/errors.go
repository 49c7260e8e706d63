// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, search, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Retryable はクライアントが同じリクエストを時間をおいて再送してよいかを返す。
func (e *APIError) Retryable() bool {
	switch e.Code {
	case ErrCodeUpstreamAPIFailure, ErrCodeHistoryUnavailable,
		ErrCodeRateLimitExceeded, ErrCodeTooManyAttempts, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeInvalidMood        = "INVALID_MOOD"
	ErrCodeInvalidCoordinate  = "INVALID_COORDINATE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUpstreamAPIFailure = "UPSTREAM_API_FAILURE"
	ErrCodePlaceNotFound      = "PLACE_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeEmailAlreadyInUse  = "EMAIL_ALREADY_IN_USE"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFValidation     = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
)

// ErrNotAuthenticated は認証済みプリンシパルが必要な操作で
// プリンシパルが与えられなかったことを示す。
// errors.Is で判定できるよう単一インスタンスとして扱う。
var ErrNotAuthenticated = &APIError{
	Code:     ErrCodeNotAuthenticated,
	Message:  "ログインが必要です。",
	Category: "auth",
	Action:   "検索履歴を保存するにはログインしてください。",
}

// NewInvalidMoodError は未定義のムードが指定された場合のエラーを生成する。
func NewInvalidMoodError(mood string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMood,
		Message:  fmt.Sprintf("無効なムードです: %s", mood),
		Category: "validation",
		Action:   "ムード一覧から選択してください。",
	}
}

// NewInvalidCoordinateError は座標が不正な場合のエラーを生成する。
func NewInvalidCoordinateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCoordinate,
		Message:  fmt.Sprintf("無効な位置情報です: %s", reason),
		Category: "validation",
		Action:   "位置情報の取得を許可して再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUpstreamAPIError は場所検索APIの呼び出し失敗を表すエラーを生成する。
// 再試行可能な失敗として扱う。
func NewUpstreamAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAPIFailure,
		Message:  fmt.Sprintf("場所の検索に失敗しました: %s", reason),
		Category: "search",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPlaceNotFoundError は場所詳細が見つからない場合のエラーを生成する。
func NewPlaceNotFoundError(placeID string) *APIError {
	return &APIError{
		Code:     ErrCodePlaceNotFound,
		Message:  fmt.Sprintf("指定された場所が見つかりません: %s", placeID),
		Category: "search",
		Action:   "検索結果から場所を選び直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailAlreadyInUseError は登録済みメールアドレスでのサインアップ時のエラーを生成する。
func NewEmailAlreadyInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの誤りを表すエラーを生成する。
// どちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewWeakPasswordError はパスワードが短すぎる場合のエラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewTooManyAttemptsError はログイン試行回数超過のエラーを生成する。
func NewTooManyAttemptsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyAttempts,
		Message:  "ログインの試行回数が多すぎます。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はリクエスト頻度の上限超過を表すエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "指定された時間待ってから再度お試しください。",
	}
}

// NewCSRFValidationError はCSRFトークン検証の失敗を表すエラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidation,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewHistoryUnavailableError は検索履歴ストアへの書き込み失敗を表すエラーを生成する。
// 再試行可能な失敗として扱う。
func NewHistoryUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeHistoryUnavailable,
		Message:  "検索履歴を更新できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
