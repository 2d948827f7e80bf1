// Package lode archives scan reports in a Lode dataset.
//
// Records are JSONL under a Hive layout partitioned by source, day and job
// status. Each WriteReport call commits one snapshot holding the report
// record followed by one verdict record per scanned file.
package lode

import (
	"context"
	"errors"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/airlock/analyzer"
	"github.com/justapithecus/airlock/types"
)

// DefaultDataset is the dataset id used when Config leaves it empty.
const DefaultDataset = "airlock"

// partitionKeys is the Hive layout of the archive.
var partitionKeys = []string{"source", "day", "status"}

// ErrMissingJobID is returned for reports without a job id.
var ErrMissingJobID = errors.New("report rejected: missing job id")

// Config holds archive settings.
type Config struct {
	// Dataset is the Lode dataset id.
	Dataset string
	// Source names the analyzer instance; it is the first partition key.
	Source string
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.Source == "" {
		c.Source = "default"
	}
	return c
}

// Archive writes scan reports to Lode.
type Archive struct {
	dataset lode.Dataset
	config  Config
}

// NewReadDataset opens the archive dataset with the write-side codec and
// layout.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewArchive returns an archive over factory. Use lode.NewMemoryFactory()
// in tests.
func NewArchive(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	cfg = cfg.withDefaults()
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Archive{dataset: ds, config: cfg}, nil
}

// NewFSArchive returns an archive rooted at a local directory.
func NewFSArchive(cfg Config, root string) (*Archive, error) {
	return NewArchive(cfg, lode.NewFSFactory(root))
}

// WriteReport commits the report and its verdicts as one snapshot.
func (a *Archive) WriteReport(ctx context.Context, report *types.ScanReport) error {
	if report == nil || report.ID == "" {
		return ErrMissingJobID
	}
	_, err := a.dataset.Write(ctx, reportRecords(report, a.config), lode.Metadata{
		"job_id": report.ID,
		"source": a.config.Source,
	})
	return WrapWriteError(err, a.config.Dataset+"/"+report.ID)
}

// Close releases archive resources.
func (a *Archive) Close() error {
	return nil
}

var _ analyzer.ReportWriter = (*Archive)(nil)
