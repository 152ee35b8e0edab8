package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/background"
	"github.com/langchou/waygazer/internal/config"
	"github.com/langchou/waygazer/internal/models"
	"github.com/langchou/waygazer/internal/provider"
)

// fakeFetcher 固定返回预置路径图的假获取端
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	graph *models.RouteGraph
	err   error
}

func (f *fakeFetcher) FetchRouteGraph(_ context.Context, _, _ float64) (*models.RouteGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.graph, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore 记录持久化调用的假仓库
type fakeStore struct {
	mu       sync.Mutex
	created  []string
	finished []string
	events   []models.SpeedLimitEvent
}

func (f *fakeStore) CreateSession(_ context.Context, s *models.TrackingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, s.ID)
	return nil
}

func (f *fakeStore) FinishSession(_ context.Context, s *models.TrackingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, s.ID)
	return nil
}

func (f *fakeStore) InsertEvent(_ context.Context, e *models.SpeedLimitEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultInterval:        time.Millisecond,
		DefaultDistanceFilterM: 0,
		MatchBaseThresholdM:    50,
		MatchMaxThresholdM:     150,
		MatchConfidenceMin:     0.7,
		MatchStickyBonus:       1.2,
		MatchMovingBonus:       1.1,
		MatchWindow:            3,
		RefreshDistanceM:       1000,
		AlertCooldown:          time.Millisecond,
		GrantWindow:            30 * time.Second,
		GrantRenewAhead:        5 * time.Second,
	}
}

// 一条向北的路段，限速 60，起点 (10.7620, 106.6600)
func testGraph() *models.RouteGraph {
	return &models.RouteGraph{
		Segments: []models.Segment{
			{
				ID:       "seg-1",
				StartLat: 10.7620, StartLon: 106.6600,
				EndLat: 10.7640, EndLon: 106.6600,
				LengthM: 220,
				SpeedLimits: []models.SpeedLimitBand{
					{FromOffsetM: 0, ToOffsetM: 220, LimitKph: 60},
				},
			},
		},
		FetchedAt: time.Now(),
	}
}

func onRouteFix(lat float64) models.Fix {
	return models.Fix{
		Latitude:   lat,
		Longitude:  106.6600,
		AccuracyM:  5,
		SpeedMps:   8,
		CourseDeg:  -1,
		CapturedAt: time.Now().UnixMilli(),
	}
}

// waitEvent 等待指定类型的事件出现，其他事件忽略
func waitEvent(t *testing.T, ch chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", kind)
			return Event{}
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	fetcher := &fakeFetcher{graph: testGraph()}
	store := &fakeStore{}

	s := New(zap.NewNop(), testConfig(), prov, fetcher, nil, store, store)
	events := s.Subscribe()
	defer s.Unsubscribe(events)

	record, err := s.Start(context.Background(), models.TrackingConfig{Interval: time.Millisecond})
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, "continuous", record.Mode)

	// 首个定位点：无路径图，未匹配，触发刷新
	prov.Push(onRouteFix(10.7621))
	first := waitEvent(t, events, EventAcceptedFix)
	assert.False(t, first.Match.Matched())

	// 等待路径图替换完成
	require.Eventually(t, func() bool { return fetcher.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// 新图上的定位点：匹配成功并播报限速
	prov.Push(onRouteFix(10.7625))
	limit := waitEvent(t, events, EventSpeedLimitChanged)
	assert.Equal(t, 60, limit.LimitKph)

	// 同一路段上的后续定位点不重复播报（边沿触发）
	time.Sleep(5 * time.Millisecond)
	prov.Push(onRouteFix(10.7630))
	waitEvent(t, events, EventAcceptedFix)

	assert.True(t, s.Status().LastMatch.Matched())

	done, err := s.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, done.EndedAt)
	assert.Equal(t, StateIdle, s.State())
	assert.GreaterOrEqual(t, done.AcceptedFixes, int64(2))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{record.ID}, store.created)
	assert.Equal(t, []string{record.ID}, store.finished)
	require.Len(t, store.events, 1)
	assert.Equal(t, models.SpeedLimitEventChanged, store.events[0].Kind)
	assert.Equal(t, 60, store.events[0].LimitKph)
	assert.Equal(t, record.ID, store.events[0].SessionID)
}

func TestStartStopIdempotent(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	s := New(zap.NewNop(), testConfig(), prov, &fakeFetcher{graph: testGraph()}, nil, nil, nil)

	first, err := s.Start(context.Background(), models.TrackingConfig{})
	require.NoError(t, err)

	// 重复启动返回当前会话，不新建
	second, err := s.Start(context.Background(), models.TrackingConfig{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stopped, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, stopped.ID)

	// 重复停止是空操作
	again, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, StateIdle, s.State())
}

func TestBackgroundModeRequiresAlwaysPermission(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	prov.SetPermissionState(provider.PermissionWhenInUse)

	s := New(zap.NewNop(), testConfig(), prov, &fakeFetcher{graph: testGraph()}, nil, nil, nil)

	_, err := s.Start(context.Background(), models.TrackingConfig{BackgroundMode: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermission))
	assert.Equal(t, StateIdle, s.State())

	// 授予 always 后可以启动
	prov.SetPermissionState(provider.PermissionAlways)
	record, err := s.Start(context.Background(), models.TrackingConfig{BackgroundMode: true})
	require.NoError(t, err)
	assert.True(t, record.BackgroundOn)

	_, err = s.Stop(context.Background())
	require.NoError(t, err)
}

func TestFetchFailureKeepsSessionAlive(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	fetcher := &fakeFetcher{err: errors.New("upstream unavailable")}

	s := New(zap.NewNop(), testConfig(), prov, fetcher, nil, nil, nil)
	events := s.Subscribe()
	defer s.Unsubscribe(events)

	_, err := s.Start(context.Background(), models.TrackingConfig{Interval: time.Millisecond})
	require.NoError(t, err)

	prov.Push(onRouteFix(10.7621))
	ev := waitEvent(t, events, EventError)
	assert.Equal(t, ErrKindFetchFailure, ev.ErrKind)

	// 拉取失败不影响会话：继续接收定位点并重试刷新
	assert.Equal(t, StateRunning, s.State())
	time.Sleep(5 * time.Millisecond)
	prov.Push(onRouteFix(10.7622))
	waitEvent(t, events, EventAcceptedFix)

	require.Eventually(t, func() bool { return fetcher.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	_, err = s.Stop(context.Background())
	require.NoError(t, err)
}

func TestBackgroundEntryDrivesExtension(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	prov.SetPermissionState(provider.PermissionAlways)
	ext := background.NewSimulatedExtension(zap.NewNop())

	s := New(zap.NewNop(), testConfig(), prov, &fakeFetcher{graph: testGraph()}, ext, nil, nil)

	// 启动前宿主已在后台：启动后立即走进入后台流程
	s.OnAppBackground()
	_, err := s.Start(context.Background(), models.TrackingConfig{BackgroundMode: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ext.ActiveGrants())
	assert.True(t, ext.DeferredDeliveryEnabled())

	// 回到前台释放授权
	s.OnAppForeground()
	assert.Zero(t, ext.ActiveGrants())
	assert.False(t, ext.DeferredDeliveryEnabled())

	// 再次进入后台重新申请
	s.OnAppBackground()
	assert.Equal(t, 1, ext.ActiveGrants())

	// 停止会话释放一切授权
	_, err = s.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ext.ActiveGrants())
	assert.False(t, ext.DeferredDeliveryEnabled())
}

func TestAppLifecycleWhileIdleIsRemembered(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	prov.SetPermissionState(provider.PermissionAlways)

	s := New(zap.NewNop(), testConfig(), prov, &fakeFetcher{graph: testGraph()}, nil, nil, nil)

	// 空闲时收到后台通知：只记录意愿
	s.OnAppBackground()
	assert.Equal(t, StateIdle, s.State())

	_, err := s.Start(context.Background(), models.TrackingConfig{BackgroundMode: true})
	require.NoError(t, err)
	assert.True(t, s.Status().Background)

	s.OnAppForeground()
	assert.False(t, s.Status().Background)

	_, err = s.Stop(context.Background())
	require.NoError(t, err)
}
