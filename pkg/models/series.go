package models

// Point is one bucket of a time series. Timestamp is the bucket start in unix
// seconds; Value is the mean of the samples in the bucket and Count their number.
type Point struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
	Count     int     `json:"count"`
}

// Episode is a run of abrupt changes detected in a series.
type Episode struct {
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
	Magnitude float64 `json:"magnitude"`
}
