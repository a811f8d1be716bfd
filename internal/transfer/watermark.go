package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/andresuchdata/batchsync/internal/datetoken"
	"github.com/andresuchdata/batchsync/internal/storage"
	"github.com/rs/zerolog"
)

// Watermark is the newest date already present in the destination.
type Watermark struct {
	Date    time.Time
	Found   bool
	Scanned int
	Undated int
}

// ResolveWatermark scans every object under prefix and keeps the maximum date
// token. Names without a valid token are counted and skipped.
func ResolveWatermark(ctx context.Context, dest storage.ObjectStorage, prefix string, loc *time.Location, log zerolog.Logger) (Watermark, error) {
	objects, err := dest.ListObjects(ctx, prefix)
	if err != nil {
		return Watermark{}, &ConnectivityError{Side: SideDestination, Op: "list objects", Err: err}
	}

	var wm Watermark
	for _, obj := range objects {
		// Folder placeholders carry no data.
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		wm.Scanned++

		date, err := datetoken.Extract(obj.Key, loc)
		if err != nil {
			wm.Undated++
			log.Debug().Err(&ParseError{Name: obj.Key, Err: err}).Msg("object has no usable date")
			continue
		}
		if !wm.Found || date.After(wm.Date) {
			wm.Date = date
			wm.Found = true
		}
	}

	return wm, nil
}
