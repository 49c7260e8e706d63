// Package place は場所検索APIのレスポンスを正規化する。
package place

import (
	"encoding/json"

	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/security"
	"github.com/tidwall/gjson"
)

var sanitizer = security.NewTextSanitizer()

// Normalize は場所検索APIのレスポンスを {places, totalCount} に変換する。
//
// 判定順（最初に一致したものを採用）:
//  1. ペイロード自体が配列
//  2. places フィールドが配列
//  3. results フィールドが配列
//  4. いずれでもない場合はペイロード全体を1件として扱う
//
// 4は常に成立するためエラーは返さない。
// 判定順は保存内容に影響するので変更しないこと。
func Normalize(payload []byte) model.SearchResults {
	root := gjson.ParseBytes(payload)

	var items []gjson.Result
	switch {
	case root.IsArray():
		items = root.Array()
	case root.Get("places").IsArray():
		items = root.Get("places").Array()
	case root.Get("results").IsArray():
		items = root.Get("results").Array()
	default:
		items = []gjson.Result{root}
	}

	places := make([]model.PlaceRecord, 0, len(items))
	for _, it := range items {
		places = append(places, toRecord(it))
	}

	return model.SearchResults{
		Places:     places,
		TotalCount: len(places),
	}
}

// toRecord は上流の1要素をPlaceRecordに変換する。
// 文字列以外の要素（数値や配列）もRawだけ保持して1件として数える。
func toRecord(it gjson.Result) model.PlaceRecord {
	rec := model.PlaceRecord{
		ID:       firstString(it, "place_id", "id"),
		Name:     sanitizer.Sanitize(firstString(it, "name", "title")),
		Vicinity: sanitizer.Sanitize(firstString(it, "vicinity", "formatted_address", "description")),
	}

	if it.IsObject() {
		for _, tv := range it.Get("types").Array() {
			if tv.Type == gjson.String && tv.Str != "" {
				rec.Types = append(rec.Types, tv.Str)
			}
		}
	}

	if it.Raw != "" && gjson.Valid(it.Raw) {
		rec.Raw = json.RawMessage(it.Raw)
	}

	return rec
}

// firstString はkeysを順に参照し、最初に見つかった空でない値を文字列で返す。
// 数値IDは文字列表現に変換する。
func firstString(it gjson.Result, keys ...string) string {
	if !it.IsObject() {
		return ""
	}
	for _, key := range keys {
		v := it.Get(key)
		switch v.Type {
		case gjson.String:
			if v.Str != "" {
				return v.Str
			}
		case gjson.Number:
			return v.Raw
		}
	}
	return ""
}
