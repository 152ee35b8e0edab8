package geo

import "math"

// 地球平均半径 (米)
const earthRadiusM = 6371000.0

// DistanceMeters 两点间大圆距离 (Haversine)
// 亚公里尺度下误差可忽略
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// SnapToSegment 点到线段的最近点投影
// 返回最近点经纬度和投影参数 t ∈ [0,1]（即线段上的进度）
// 局部使用等距圆柱投影，路段长度在公里级以内时足够精确
func SnapToSegment(lat, lon, startLat, startLon, endLat, endLon float64) (snapLat, snapLon, progress float64) {
	// 以线段起点为原点，按纬度余弦修正经度方向的比例
	cosLat := math.Cos(startLat * math.Pi / 180)

	px := (lon - startLon) * cosLat
	py := lat - startLat
	ex := (endLon - startLon) * cosLat
	ey := endLat - startLat

	segLen2 := ex*ex + ey*ey
	if segLen2 == 0 {
		// 退化线段：起止点重合
		return startLat, startLon, 0
	}

	t := (px*ex + py*ey) / segLen2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	snapLat = startLat + t*ey
	snapLon = startLon + t*ex/cosLat
	return snapLat, snapLon, t
}

// DistanceToSegmentMeters 点到线段最近点的距离
func DistanceToSegmentMeters(lat, lon, startLat, startLon, endLat, endLon float64) float64 {
	snapLat, snapLon, _ := SnapToSegment(lat, lon, startLat, startLon, endLat, endLon)
	return DistanceMeters(lat, lon, snapLat, snapLon)
}
