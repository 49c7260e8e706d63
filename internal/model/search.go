package model

import (
	"encoding/json"
	"math"
	"time"
)

// Coordinate は緯度経度を表す。
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate は緯度経度が有限かつ範囲内であることを検証する。
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return NewInvalidCoordinateError("緯度経度は有限の数値である必要があります")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return NewInvalidCoordinateError("緯度は-90から90の範囲で指定してください")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return NewInvalidCoordinateError("経度は-180から180の範囲で指定してください")
	}
	return nil
}

// PlaceRecord は正規化済みの場所情報。
// Rawには上流APIが返した元のオブジェクトを保持する。
type PlaceRecord struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Vicinity string          `json:"vicinity,omitempty"`
	Types    []string        `json:"types,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// SearchResults は正規化済みの検索結果。
// 書き込み時点で TotalCount == len(Places) を満たす。
type SearchResults struct {
	Places     []PlaceRecord `json:"places"`
	TotalCount int           `json:"totalCount"`
}

// SearchHistoryEntry は1回の検索の履歴。
// 所有者はストレージ上のスコープで表し、フィールドとしては持たない。
// 作成後は更新されない。
type SearchHistoryEntry struct {
	ID            string        `json:"id"`
	Mood          Mood          `json:"mood"`
	Location      Coordinate    `json:"location"`
	SearchResults SearchResults `json:"searchResults"`
	Timestamp     time.Time     `json:"timestamp"` // クライアント観測時刻
	CreatedAt     time.Time     `json:"createdAt"` // サーバー採番時刻
}
