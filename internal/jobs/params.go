package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
)

// Window is the analysis range shared by every windowed job type.
type Window struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	IntervalSeconds int64     `json:"interval_seconds"`
}

func (w *Window) normalize() {
	w.Start = w.Start.UTC().Truncate(time.Second)
	w.End = w.End.UTC().Truncate(time.Second)
}

func (w Window) seconds() int64 {
	return int64(w.End.Sub(w.Start) / time.Second)
}

func (w Window) validate(errs *multierror.Error) *multierror.Error {
	if w.Start.IsZero() || w.End.IsZero() {
		errs = multierror.Append(errs, errors.New("start and end are required"))
	} else if !w.End.After(w.Start) {
		errs = multierror.Append(errs, errors.New("end must be after start"))
	}
	if w.IntervalSeconds <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("interval_seconds must be > 0, got %d", w.IntervalSeconds))
	}
	return errs
}

// Scope selects the candidate pool for pool-scanning job types.
type Scope struct {
	NodeID         string `json:"node_id,omitempty"`
	ExcludeDerived bool   `json:"exclude_derived,omitempty"`
	Cap            int    `json:"cap,omitempty"`
	// CandidateSensorIDs restricts the pool to an explicit list.
	CandidateSensorIDs []string `json:"candidate_sensor_ids,omitempty"`
	BudgetSeconds      int      `json:"budget_seconds,omitempty"`
}

func (s *Scope) normalize() {
	s.NodeID = strings.TrimSpace(s.NodeID)
	s.CandidateSensorIDs = uniqueSorted(s.CandidateSensorIDs)
}

func (s Scope) validate(errs *multierror.Error, preview bool, p analysis.Policy) *multierror.Error {
	if s.Cap < 0 {
		errs = multierror.Append(errs, fmt.Errorf("cap must be >= 0, got %d", s.Cap))
	}
	if s.BudgetSeconds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("budget_seconds must be >= 0, got %d", s.BudgetSeconds))
	}
	if preview {
		if len(s.CandidateSensorIDs) == 0 {
			errs = multierror.Append(errs, errors.New("preview requires candidate_sensor_ids"))
		} else if len(s.CandidateSensorIDs) > p.PreviewMaxCandidates {
			errs = multierror.Append(errs, fmt.Errorf("preview accepts at most %d candidate_sensor_ids, got %d",
				p.PreviewMaxCandidates, len(s.CandidateSensorIDs)))
		}
	}
	return errs
}

func (s Scope) budget(p analysis.Policy) time.Duration {
	if s.BudgetSeconds > 0 {
		return time.Duration(s.BudgetSeconds) * time.Second
	}
	return p.ComputeBudget
}

// decodeParams strictly decodes raw into dst.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return analysis.Invalid("decode params: %v", err)
	}
	return nil
}

// finish turns accumulated validation failures into a ValidationError.
func finish(errs *multierror.Error) error {
	if err := errs.ErrorOrNil(); err != nil {
		return &analysis.ValidationError{Err: err}
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func requireSensorID(errs *multierror.Error, field, id string) *multierror.Error {
	if strings.TrimSpace(id) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", field))
	}
	return errs
}
