package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/waygazer/internal/models"
	"github.com/langchou/waygazer/internal/provider"
)

type collector struct {
	mu    sync.Mutex
	fixes []models.Fix
	errs  []error
}

func (c *collector) onFix(f models.Fix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, f)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) fixCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fixes)
}

func (c *collector) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func freshFix(lat, lon float64) models.Fix {
	return models.Fix{Latitude: lat, Longitude: lon, AccuracyM: 5, CapturedAt: time.Now().UnixMilli()}
}

func TestContinuousThrottle(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	col := &collector{}

	c := New(zap.NewNop(), prov, models.TrackingConfig{
		Interval:        time.Second,
		DistanceFilterM: 0,
	}, col.onFix, col.onError)

	// 手动时钟
	clock := time.Unix(1700000000, 0)
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	prov.Push(freshFix(10, 106.000))
	prov.Push(freshFix(10, 106.001)) // 时钟未推进，应被节流丢弃
	assert.Equal(t, 1, col.fixCount())

	clock = clock.Add(500 * time.Millisecond)
	prov.Push(freshFix(10, 106.002)) // 间隔不足
	assert.Equal(t, 1, col.fixCount())

	clock = clock.Add(600 * time.Millisecond)
	prov.Push(freshFix(10, 106.003))
	assert.Equal(t, 2, col.fixCount())

	accepted, dropped := c.Counts()
	assert.Equal(t, int64(2), accepted)
	assert.Equal(t, int64(2), dropped)
}

func TestForcedModeEmitsWhileStationary(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	col := &collector{}

	c := New(zap.NewNop(), prov, models.TrackingConfig{
		Interval:   20 * time.Millisecond,
		ForcedMode: true,
	}, col.onFix, col.onError)

	// 静止设备：始终是同一个点
	prov.Push(freshFix(10, 106))

	require.NoError(t, c.Start(context.Background()))
	time.Sleep(120 * time.Millisecond)
	c.Stop()

	// 位移为 0 也必须按节奏放行
	assert.GreaterOrEqual(t, col.fixCount(), 2)
}

func TestForcedModeReportsNoFix(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	col := &collector{}

	c := New(zap.NewNop(), prov, models.TrackingConfig{
		Interval:   20 * time.Millisecond,
		ForcedMode: true,
	}, col.onFix, col.onError)

	require.NoError(t, c.Start(context.Background()))
	time.Sleep(70 * time.Millisecond)
	c.Stop()

	assert.Zero(t, col.fixCount())
	require.NotZero(t, col.errCount())
	col.mu.Lock()
	defer col.mu.Unlock()
	assert.True(t, errors.Is(col.errs[0], provider.ErrNoFix))
}

func TestStopBlocksPropagation(t *testing.T) {
	prov := provider.NewIngestProvider(zap.NewNop())
	col := &collector{}

	c := New(zap.NewNop(), prov, models.TrackingConfig{Interval: time.Millisecond}, col.onFix, col.onError)
	require.NoError(t, c.Start(context.Background()))

	c.Stop()
	c.Stop() // 幂等

	prov.Push(freshFix(10, 106))
	assert.Zero(t, col.fixCount())
}

func TestModeName(t *testing.T) {
	c := New(zap.NewNop(), provider.NewIngestProvider(zap.NewNop()), models.TrackingConfig{ForcedMode: true}, nil, nil)
	assert.Equal(t, ModeForced, c.Mode())

	c = New(zap.NewNop(), provider.NewIngestProvider(zap.NewNop()), models.TrackingConfig{}, nil, nil)
	assert.Equal(t, ModeContinuous, c.Mode())
}
