package routegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
)

// ErrInvalidPayload 载荷解码失败或内容非法
// 调用方应保留旧路径图，按 FetchFailure 处理
var ErrInvalidPayload = errors.New("invalid route graph payload")

// Client 路径图服务客户端
type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	cache      Cache
}

// NewClient 创建路径图客户端
// cache 为 nil 时使用进程内缓存
func NewClient(host, apiKey string, cache Cache, logger *zap.Logger) *Client {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Client{
		host:   host,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		cache:  cache,
	}
}

// FetchRouteGraph 按坐标获取路径图
func (c *Client) FetchRouteGraph(ctx context.Context, lat, lon float64) (*models.RouteGraph, error) {
	// 缓存 key 精确到小数点后 4 位，约 11 米
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lon)

	if graph, ok := c.cache.Get(ctx, cacheKey); ok {
		c.logger.Debug("Route graph cache hit", zap.String("key", cacheKey))
		return graph, nil
	}

	apiURL := fmt.Sprintf(
		"%s/api/route?point=%.6f,%.6f&apikey=%s",
		c.host, lat, lon, url.QueryEscape(c.apiKey),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route api returned status %d", resp.StatusCode)
	}

	var payload RoutePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidPayload, err)
	}

	graph, err := convertPayload(&payload)
	if err != nil {
		return nil, err
	}

	c.cache.Set(ctx, cacheKey, graph)

	c.logger.Debug("Route graph fetched",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Int("segments", len(graph.Segments)),
		zap.Int("alerts", len(graph.Alerts)))

	return graph, nil
}

// convertPayload 载荷转内部模型，带内容校验
func convertPayload(payload *RoutePayload) (*models.RouteGraph, error) {
	if payload.Route == nil {
		return nil, fmt.Errorf("%w: missing route", ErrInvalidPayload)
	}
	if len(payload.Route.Segments) == 0 {
		return nil, fmt.Errorf("%w: empty segments", ErrInvalidPayload)
	}

	graph := &models.RouteGraph{
		StartOffsetM: payload.Route.StartOffsetM,
		Segments:     make([]models.Segment, 0, len(payload.Route.Segments)),
		Alerts:       make([]models.AlertMarker, 0, len(payload.Route.Alerts)),
		FetchedAt:    time.Now(),
	}

	for i, sp := range payload.Route.Segments {
		if len(sp.Start) != 2 || len(sp.End) != 2 {
			return nil, fmt.Errorf("%w: segment %d has malformed endpoints", ErrInvalidPayload, i)
		}

		seg := models.Segment{
			ID:        sp.ID,
			Direction: sp.Direction,
			StartLat:  sp.Start[0],
			StartLon:  sp.Start[1],
			EndLat:    sp.End[0],
			EndLon:    sp.End[1],
			LengthM:   sp.LengthM,
		}
		for _, band := range sp.SpeedLimits {
			seg.SpeedLimits = append(seg.SpeedLimits, models.SpeedLimitBand{
				FromOffsetM: band[0],
				ToOffsetM:   band[1],
				LimitKph:    int(band[2]),
			})
		}
		graph.Segments = append(graph.Segments, seg)
	}

	for _, ap := range payload.Route.Alerts {
		graph.Alerts = append(graph.Alerts, models.AlertMarker{
			Kind:               ap.Kind,
			Subtype:            ap.Subtype,
			LimitKph:           ap.LimitKph,
			DistanceFromStartM: ap.DistanceM,
		})
	}

	return graph, nil
}
