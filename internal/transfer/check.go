package transfer

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	probeObjectName = "test_connection.txt"
	maxSampleNames  = 5
)

// CheckReport is the outcome of a connectivity check against both stores.
type CheckReport struct {
	SourceFiles    int
	SampleNames    []string
	SourceErr      error
	DestinationErr error
	// ProbeKey is set when a probe object was written.
	ProbeKey string
	ProbeErr error
}

func (r *CheckReport) OK() bool {
	return r.SourceErr == nil && r.DestinationErr == nil && r.ProbeErr == nil
}

// Check lists the source directory and reloads the bucket metadata. With
// writeProbe it also writes a small object under the prefix.
func (o *Orchestrator) Check(ctx context.Context, writeProbe bool) *CheckReport {
	report := &CheckReport{}

	if names, err := o.listSource(ctx); err != nil {
		report.SourceErr = err
	} else {
		sort.Strings(names)
		report.SourceFiles = len(names)
		report.SampleNames = names[:min(len(names), maxSampleNames)]
	}

	destCtx, cancel := withOpTimeout(ctx, o.opts.OpTimeout)
	defer cancel()
	if err := o.dest.CheckBucket(destCtx); err != nil {
		report.DestinationErr = &ConnectivityError{Side: SideDestination, Op: "reload bucket", Err: err}
		return report
	}

	if writeProbe {
		key := o.opts.Prefix + probeObjectName
		body := fmt.Sprintf("connectivity probe written at %s\n", o.now().Format(time.RFC3339))
		if err := o.dest.UploadObject(destCtx, key, []byte(body)); err != nil {
			report.ProbeErr = &TransferError{Name: key, Op: "upload", Err: err}
		} else {
			report.ProbeKey = key
		}
	}

	return report
}

func (o *Orchestrator) listSource(ctx context.Context) ([]string, error) {
	session, err := o.source.Connect(ctx)
	if err != nil {
		return nil, &ConnectivityError{Side: SideSource, Op: "connect", Err: err}
	}
	defer session.Close()

	names, err := session.List(ctx)
	if err != nil {
		return nil, &ConnectivityError{Side: SideSource, Op: "list directory", Err: err}
	}
	return names, nil
}
