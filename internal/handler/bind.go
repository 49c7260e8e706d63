package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/moodbytes/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーメッセージにはjsonタグ名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	return v
}

// decodeJSON はリクエストボディをTにデコードし、validateタグで検証する。
// 失敗した場合はINVALID_REQUESTのAPIErrorを返す。
func decodeJSON[T any](r *http.Request) (T, error) {
	var dst T

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, model.NewInvalidRequestError("リクエストボディが空です")
		}
		return dst, model.NewInvalidRequestError("JSONの形式が不正です")
	}
	if dec.More() {
		return dst, model.NewInvalidRequestError("JSONの後に余分なデータがあります")
	}

	if err := validate.Struct(dst); err != nil {
		return dst, model.NewInvalidRequestError(validationMessage(err))
	}
	return dst, nil
}

// validationMessage は最初の検証エラーを短いメッセージにする。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s は必須です", fe.Field())
		case "max":
			return fmt.Sprintf("%s は%s以下で指定してください", fe.Field(), fe.Param())
		case "min":
			return fmt.Sprintf("%s は%s以上で指定してください", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s が不正です (%s)", fe.Field(), fe.Tag())
		}
	}
	return "入力内容が不正です"
}
