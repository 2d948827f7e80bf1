package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrReportNotFound is returned when no archived report has the job id.
var ErrReportNotFound = errors.New("scan report not found")

// Filter selects archived reports. Empty fields match everything.
type Filter struct {
	Source string
	Day    string
	Status string
	// Limit caps the result count; zero means no limit.
	Limit int
}

// QueryReports returns the matching reports, latest snapshot first.
func QueryReports(ctx context.Context, ds lode.Dataset, f Filter) ([]ReportRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	reports := []ReportRecord{}
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		// Manifest paths are a coarse pre-filter; record fields decide.
		if !snapshotMatchesFilter(snap, "source", f.Source) ||
			!snapshotMatchesFilter(snap, "day", f.Day) ||
			!snapshotMatchesFilter(snap, "status", f.Status) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			if recordKind(item) != RecordKindReport {
				continue
			}
			rec, err := decodeRecord[ReportRecord](item)
			if err != nil {
				return nil, fmt.Errorf("decode report in snapshot %s: %w", snap.ID, err)
			}
			if !f.matches(rec) {
				continue
			}
			reports = append(reports, rec)
			if f.Limit > 0 && len(reports) >= f.Limit {
				return reports, nil
			}
		}
	}
	return reports, nil
}

func (f Filter) matches(r ReportRecord) bool {
	return (f.Source == "" || r.Source == f.Source) &&
		(f.Day == "" || r.Day == f.Day) &&
		(f.Status == "" || r.Status == f.Status)
}

// FindReport returns the report of a job and its verdicts in path order.
func FindReport(ctx context.Context, ds lode.Dataset, jobID string) (ReportRecord, []VerdictRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return ReportRecord{}, nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if id, _ := snap.Manifest.Metadata["job_id"].(string); id != jobID {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return ReportRecord{}, nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		var (
			report   ReportRecord
			found    bool
			verdicts []VerdictRecord
		)
		for _, item := range data {
			switch recordKind(item) {
			case RecordKindReport:
				if report, err = decodeRecord[ReportRecord](item); err != nil {
					return ReportRecord{}, nil, err
				}
				found = true
			case RecordKindVerdict:
				v, err := decodeRecord[VerdictRecord](item)
				if err != nil {
					return ReportRecord{}, nil, err
				}
				verdicts = append(verdicts, v)
			}
		}
		if found {
			return report, verdicts, nil
		}
	}
	return ReportRecord{}, nil, fmt.Errorf("%w: %s", ErrReportNotFound, jobID)
}

// snapshotMatchesFilter reports whether any file of the snapshot lies in
// the key=value partition. An empty value matches.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// day=2026-01-1 never matches day=2026-01-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
