// Package placesapi は場所検索APIのクライアントを提供する。
// 周辺検索（nearby_search）と場所詳細（place_details）の2種類のリクエストを扱う。
package placesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/moodbytes/internal/metrics"
	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/tidwall/gjson"
)

const (
	requestTypeNearbySearch = "nearby_search"
	requestTypePlaceDetails = "place_details"

	// DefaultRadius は周辺検索の半径（メートル）。
	DefaultRadius = 3000
	// DefaultDetailFields は場所詳細で取得するフィールド。
	DefaultDetailFields = "name,formatted_address,rating,user_ratings_total,reviews,photos,geometry"
	// defaultMaxResponseSize はレスポンスボディの上限（5MiB）。
	defaultMaxResponseSize = 5 << 20
)

// Config はクライアントの設定。
type Config struct {
	Endpoint        string
	Radius          int
	DetailFields    string
	MaxResponseSize int64
}

// Client は場所検索APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	config     Config
}

// NewClient はClientを生成する。未設定の項目はデフォルト値で補う。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.Radius <= 0 {
		config.Radius = DefaultRadius
	}
	if config.DetailFields == "" {
		config.DetailFields = DefaultDetailFields
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = defaultMaxResponseSize
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics.Noop{},
		config:     config,
	}
}

// WithMetrics はステータスコードとレイテンシの記録先を設定する。
func (c *Client) WithMetrics(m metrics.MetricsCollector) *Client {
	if m != nil {
		c.metrics = m
	}
	return c
}

type nearbySearchRequest struct {
	RequestType string  `json:"request_type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Radius      int     `json:"radius"`
	Mood        string  `json:"mood"`
}

type placeDetailsRequest struct {
	RequestType string `json:"request_type"`
	PlaceID     string `json:"place_id"`
	Fields      string `json:"fields"`
}

// NearbySearch はムードと座標で周辺の場所を検索し、レスポンスボディをそのまま返す。
// レスポンスの形は一定しないため、解釈は place.Normalize に任せる。
// 非2xx、通信エラー、JSONでないボディはUPSTREAM_API_FAILUREとなる。
func (c *Client) NearbySearch(ctx context.Context, coord model.Coordinate, mood model.Mood) ([]byte, error) {
	body, err := c.post(ctx, requestTypeNearbySearch, nearbySearchRequest{
		RequestType: requestTypeNearbySearch,
		Lat:         coord.Latitude,
		Lng:         coord.Longitude,
		Radius:      c.config.Radius,
		Mood:        string(mood),
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		c.logger.Error("場所検索APIのレスポンスがJSONではありません",
			slog.Int("body_size", len(body)),
		)
		return nil, model.NewUpstreamAPIError("レスポンスの形式が不正です")
	}

	return body, nil
}

// PlaceDetails は場所IDの詳細を取得し、place オブジェクトを返す。
// success が true かつ place が存在するレスポンスのみ受け付ける。
func (c *Client) PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error) {
	body, err := c.post(ctx, requestTypePlaceDetails, placeDetailsRequest{
		RequestType: requestTypePlaceDetails,
		PlaceID:     placeID,
		Fields:      c.config.DetailFields,
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, model.NewUpstreamAPIError("invalid API response format")
	}

	success := gjson.GetBytes(body, "success")
	place := gjson.GetBytes(body, "place")
	if !success.Bool() || !place.IsObject() {
		c.logger.Warn("場所詳細APIのレスポンス形式が不正です",
			slog.String("place_id", placeID),
			slog.Bool("success", success.Bool()),
			slog.Bool("has_place", place.Exists()),
		)
		return nil, model.NewUpstreamAPIError("invalid API response format")
	}

	return json.RawMessage(place.Raw), nil
}

// post はJSONリクエストを送信し、2xxのレスポンスボディを返す。
func (c *Client) post(ctx context.Context, requestType string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "MoodBytes/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency(requestType, time.Since(start))
	if err != nil {
		c.logger.Error("場所検索APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamAPIError("APIに接続できませんでした")
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamStatus(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("場所検索APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamAPIError(fmt.Sprintf("APIがステータス %d を返しました", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamAPIError("レスポンスの読み取りに失敗しました")
	}
	if int64(len(body)) > c.config.MaxResponseSize {
		return nil, model.NewUpstreamAPIError("レスポンスが大きすぎます")
	}

	return body, nil
}
