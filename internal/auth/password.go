package auth

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/moodbytes/internal/model"
)

// ProviderPassword はメールアドレス・パスワード認証のプロバイダー名。
const ProviderPassword = "password"

// DefaultMinPasswordLength はパスワードの最小文字数。
const DefaultMinPasswordLength = 6

var validate = validator.New(validator.WithRequiredStructEnabled())

// normalizeEmail は前後の空白を除去し小文字化したメールアドレスを返す。
// 形式が不正な場合はINVALID_EMAILエラーを返す。
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", model.NewInvalidEmailError()
	}
	return email, nil
}

func hashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword はハッシュとパスワードが一致すればtrueを返す。
func verifyPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
