package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/waygazer/internal/models"
)

// twoSegmentGraph A:(0,0)-(0,0.001) 限速 60，B:(0,0.001)-(0,0.002) 限速 40
func twoSegmentGraph() *models.RouteGraph {
	return &models.RouteGraph{
		Segments: []models.Segment{
			{
				ID: "seg-a", StartLat: 0, StartLon: 0, EndLat: 0, EndLon: 0.001,
				LengthM:     111.2,
				SpeedLimits: []models.SpeedLimitBand{{FromOffsetM: 0, ToOffsetM: 111.2, LimitKph: 60}},
			},
			{
				ID: "seg-b", StartLat: 0, StartLon: 0.001, EndLat: 0, EndLon: 0.002,
				LengthM:     111.2,
				SpeedLimits: []models.SpeedLimitBand{{FromOffsetM: 0, ToOffsetM: 111.2, LimitKph: 40}},
			},
		},
	}
}

func fixAt(lat, lon float64) models.Fix {
	return models.Fix{
		Latitude:   lat,
		Longitude:  lon,
		AccuracyM:  5,
		SpeedMps:   5,
		CourseDeg:  90,
		CapturedAt: 1700000000000,
	}
}

func TestMatchNoGraph(t *testing.T) {
	m := New(DefaultTuning())

	res := m.Match(fixAt(0, 0), nil, models.Unmatched())
	assert.False(t, res.Matched())

	res = m.Match(fixAt(0, 0), &models.RouteGraph{}, models.Unmatched())
	assert.False(t, res.Matched())
}

func TestMatchFirstFix(t *testing.T) {
	m := New(DefaultTuning())
	graph := twoSegmentGraph()

	// 无历史匹配时全图评估
	res := m.Match(fixAt(0.00005, 0.0005), graph, models.Unmatched())
	require.True(t, res.Matched())
	assert.Equal(t, 0, res.SegmentIndex)
	assert.InDelta(t, 0.5, res.ProgressOnSegment, 0.05)
	assert.Greater(t, res.Confidence, 0.7)
}

func TestMatchStaysOnSegment(t *testing.T) {
	m := New(DefaultTuning())
	graph := twoSegmentGraph()

	prev := m.Match(fixAt(0, 0.0002), graph, models.Unmatched())
	require.Equal(t, 0, prev.SegmentIndex)

	// 沿 A 前进，序号不应变化
	for _, lon := range []float64{0.0004, 0.0006, 0.0008} {
		res := m.Match(fixAt(0, lon), graph, prev)
		assert.Equal(t, 0, res.SegmentIndex, "lon=%v", lon)
		prev = res
	}
}

func TestMatchCommitsTransition(t *testing.T) {
	m := New(DefaultTuning())
	graph := twoSegmentGraph()

	prev := m.Match(fixAt(0, 0.0008), graph, models.Unmatched())
	require.Equal(t, 0, prev.SegmentIndex)

	// B 路段中点，高质量定位：置信度超过阈值，提交切换
	res := m.Match(fixAt(0, 0.0015), graph, prev)
	assert.Equal(t, 1, res.SegmentIndex)
	assert.Greater(t, res.Confidence, 0.7)
}

func TestMatchHysteresisKeepsPrevious(t *testing.T) {
	m := New(DefaultTuning())
	graph := twoSegmentGraph()

	prev := m.Match(fixAt(0, 0.0008), graph, models.Unmatched())
	require.Equal(t, 0, prev.SegmentIndex)

	// 定位精度很差（60 米）：最佳候选是 B 但置信度不足，保持 A
	noisy := fixAt(0, 0.0015)
	noisy.AccuracyM = 60
	res := m.Match(noisy, graph, prev)
	assert.Equal(t, 0, res.SegmentIndex)
	assert.Equal(t, prev, res)
}

func TestMatchOffRoute(t *testing.T) {
	m := New(DefaultTuning())
	graph := twoSegmentGraph()

	prev := m.Match(fixAt(0, 0.0005), graph, models.Unmatched())
	require.True(t, prev.Matched())

	// 偏离路径约 1.1 公里
	res := m.Match(fixAt(0.01, 0.0005), graph, prev)
	assert.False(t, res.Matched())
}

func TestDynamicThreshold(t *testing.T) {
	m := New(DefaultTuning())

	t.Run("base", func(t *testing.T) {
		fix := models.Fix{AccuracyM: 5, SpeedMps: 5}
		assert.InDelta(t, 50, m.dynamicThreshold(fix, false), 1e-9)
	})

	t.Run("accuracy widens", func(t *testing.T) {
		fix := models.Fix{AccuracyM: 30, SpeedMps: 5}
		// 50 + (30-10)/2 = 60
		assert.InDelta(t, 60, m.dynamicThreshold(fix, false), 1e-9)
	})

	t.Run("current segment widens", func(t *testing.T) {
		fix := models.Fix{AccuracyM: 5, SpeedMps: 5}
		assert.InDelta(t, 75, m.dynamicThreshold(fix, true), 1e-9)
	})

	t.Run("speed widens", func(t *testing.T) {
		fix := models.Fix{AccuracyM: 5, SpeedMps: 15}
		// 50 * (1 + 0.1*5) = 75
		assert.InDelta(t, 75, m.dynamicThreshold(fix, false), 1e-9)
	})

	t.Run("capped", func(t *testing.T) {
		fix := models.Fix{AccuracyM: 200, SpeedMps: 40}
		assert.InDelta(t, 150, m.dynamicThreshold(fix, true), 1e-9)
	})
}
