package transfer

import (
	"context"
	"time"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/storage"
	"github.com/rs/zerolog"
)

// UploadResult aggregates one upload stage.
type UploadResult struct {
	Uploaded []string
	Failed   []domain.FileFailure
}

// uploadStaged writes each staged file to prefix+name, replacing any object
// already there. Failures are independent per object and nothing is rolled back.
func uploadStaged(ctx context.Context, dest storage.ObjectStorage, prefix string, staged []StagedFile, opTimeout time.Duration, log zerolog.Logger) UploadResult {
	var res UploadResult
	for _, f := range staged {
		key := prefix + f.Name
		if err := uploadOne(ctx, dest, key, f.Path, opTimeout); err != nil {
			terr := &TransferError{Name: f.Name, Op: "upload", Err: err}
			log.Warn().Str("file", f.Name).Str("object", key).Err(err).Msg("upload failed")
			res.Failed = append(res.Failed, domain.FileFailure{Name: f.Name, Stage: "upload", Reason: terr.Error()})
			continue
		}
		log.Info().Str("file", f.Name).Str("object", key).Msg("uploaded")
		res.Uploaded = append(res.Uploaded, f.Name)
	}
	return res
}

func uploadOne(ctx context.Context, dest storage.ObjectStorage, key, path string, opTimeout time.Duration) error {
	ctx, cancel := withOpTimeout(ctx, opTimeout)
	defer cancel()
	return dest.UploadFile(ctx, key, path)
}
