package routegraph

// 路径图服务的响应载荷
// 线上契约由地图服务方持有，这里只做消费端解码

// RoutePayload 路径图响应
type RoutePayload struct {
	Code  string        `json:"code"`
	Route *routePayload `json:"route"`
}

type routePayload struct {
	StartOffsetM float64          `json:"start_offset_m"`
	Segments     []segmentPayload `json:"segments"`
	Alerts       []alertPayload   `json:"alerts"`
}

// segmentPayload 路段元组
// start/end 为 [lat, lon]，speed_limits 为 [from_m, to_m, limit_kph] 元组
type segmentPayload struct {
	ID          string       `json:"id"`
	Direction   string       `json:"direction"`
	Start       []float64    `json:"start"`
	End         []float64    `json:"end"`
	LengthM     float64      `json:"length_m"`
	SpeedLimits [][3]float64 `json:"speed_limits"`
}

type alertPayload struct {
	Kind      string  `json:"kind"`
	Subtype   string  `json:"subtype,omitempty"`
	LimitKph  int     `json:"limit_kph,omitempty"`
	DistanceM float64 `json:"distance_m"`
}
