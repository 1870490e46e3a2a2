package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// readBatchSize bounds how many candidates one reader query covers.
const readBatchSize = 50

// lookupSensor fetches a catalog entry, mapping a miss to ErrSensorNotFound.
func lookupSensor(ctx context.Context, st store.Store, id string) (*models.Sensor, error) {
	sn, err := st.GetSensor(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sensor %s: %w", id, err)
	}
	return sn, nil
}

// effectiveInterval is the coarser of the requested and native intervals.
func effectiveInterval(requested int64, sn *models.Sensor) int64 {
	if native := int64(sn.IntervalSeconds); native > requested {
		return native
	}
	return requested
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// minWatermark combines two watermarks; zero means unbounded.
func minWatermark(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case b < a:
		return b
	}
	return a
}

// readOne reads a single sensor's buckets over [start, end).
func readOne(ctx context.Context, r tsreader.Reader, id string, start, end time.Time, interval int64) (analysis.Series, int64, error) {
	res, err := r.Query(ctx, tsreader.QueryRequest{
		SensorIDs: []string{id}, Start: start, End: end, IntervalSeconds: interval,
	})
	if err != nil {
		return analysis.Series{}, 0, err
	}
	return analysis.NewSeries(interval, res.Series[id]), unixOrZero(res.Watermark), nil
}

// candidateReads is the outcome of reading one chunk of candidates.
type candidateReads struct {
	series    map[string]analysis.Series
	failed    map[string]error
	watermark int64
}

// readCandidates reads every sensor at its effective interval over the window
// padded by horizon plus one bucket on each side. A failed batch is retried one
// sensor at a time so a single bad series does not sink its neighbours. Only
// context cancellation is returned as an error.
func readCandidates(ctx context.Context, r tsreader.Reader, sensors []*models.Sensor, start, end time.Time, requested, horizon int64) (*candidateReads, error) {
	out := &candidateReads{
		series: make(map[string]analysis.Series, len(sensors)),
		failed: make(map[string]error),
	}

	groups := make(map[int64][]string)
	var order []int64
	for _, sn := range sensors {
		iv := effectiveInterval(requested, sn)
		if _, ok := groups[iv]; !ok {
			order = append(order, iv)
		}
		groups[iv] = append(groups[iv], sn.ID)
	}

	for _, iv := range order {
		ids := groups[iv]
		pad := time.Duration(horizon+iv) * time.Second
		from, to := start.Add(-pad), end.Add(pad)

		res, err := r.Query(ctx, tsreader.QueryRequest{SensorIDs: ids, Start: from, End: to, IntervalSeconds: iv})
		if err == nil {
			for _, id := range ids {
				out.series[id] = analysis.NewSeries(iv, res.Series[id])
			}
			out.watermark = minWatermark(out.watermark, unixOrZero(res.Watermark))
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		for _, id := range ids {
			s, wm, err := readOne(ctx, r, id, from, to, iv)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				out.failed[id] = &analysis.CandidateReadError{CandidateID: id, Err: err}
				continue
			}
			out.series[id] = s
			out.watermark = minWatermark(out.watermark, wm)
		}
	}
	return out, nil
}

// chunks splits sensors into consecutive slices of at most size.
func chunks(sensors []*models.Sensor, size int) [][]*models.Sensor {
	var out [][]*models.Sensor
	for i := 0; i < len(sensors); i += size {
		j := i + size
		if j > len(sensors) {
			j = len(sensors)
		}
		out = append(out, sensors[i:j])
	}
	return out
}
