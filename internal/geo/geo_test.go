package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	// 赤道上经度差 0.001 度约 111.2 米
	d := DistanceMeters(0, 0, 0, 0.001)
	if d < 110 || d > 112 {
		t.Fatalf("unexpected distance: %v", d)
	}

	// 上海人民广场到东方明珠约 2.7 公里
	d = DistanceMeters(31.2304, 121.4737, 31.2397, 121.4998)
	if d < 2000 || d > 3500 {
		t.Fatalf("unexpected distance: %v", d)
	}

	// 同一点距离为 0
	if d := DistanceMeters(31.23, 121.47, 31.23, 121.47); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestSnapToSegment(t *testing.T) {
	// 水平线段 (0,0)-(0,0.001)，点在中间偏北
	lat, lon, prog := SnapToSegment(0.0001, 0.0005, 0, 0, 0, 0.001)
	if math.Abs(lat) > 1e-9 {
		t.Fatalf("expected snap onto segment latitude 0, got %v", lat)
	}
	if math.Abs(lon-0.0005) > 1e-9 {
		t.Fatalf("expected snap longitude 0.0005, got %v", lon)
	}
	if math.Abs(prog-0.5) > 1e-6 {
		t.Fatalf("expected progress 0.5, got %v", prog)
	}
}

func TestSnapToSegmentClamp(t *testing.T) {
	// 点在线段延长线之外，投影参数应被钳制
	_, _, prog := SnapToSegment(0, -0.001, 0, 0, 0, 0.001)
	if prog != 0 {
		t.Fatalf("expected clamped progress 0, got %v", prog)
	}

	_, _, prog = SnapToSegment(0, 0.002, 0, 0, 0, 0.001)
	if prog != 1 {
		t.Fatalf("expected clamped progress 1, got %v", prog)
	}
}

func TestSnapToSegmentIdempotent(t *testing.T) {
	// 已在线段上的点再次投影返回自身
	lat1, lon1, _ := SnapToSegment(0, 0.0003, 0, 0, 0, 0.001)
	lat2, lon2, _ := SnapToSegment(lat1, lon1, 0, 0, 0, 0.001)
	if math.Abs(lat2-lat1) > 1e-12 || math.Abs(lon2-lon1) > 1e-12 {
		t.Fatalf("snap not idempotent: (%v,%v) vs (%v,%v)", lat1, lon1, lat2, lon2)
	}
}

func TestSnapToSegmentDegenerate(t *testing.T) {
	// 起止点重合的退化线段
	lat, lon, prog := SnapToSegment(1, 1, 0.5, 0.5, 0.5, 0.5)
	if lat != 0.5 || lon != 0.5 || prog != 0 {
		t.Fatalf("unexpected degenerate snap: %v %v %v", lat, lon, prog)
	}
}
