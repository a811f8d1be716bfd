// Package source reads daily batch files from the remote SFTP directory.
package source

import (
	"context"
	"io"
)

// Session is an open, authenticated view of the single remote directory.
// A Session belongs to one transfer invocation and must be closed by it.
type Session interface {
	// List returns the names of the regular files in the remote directory.
	List(ctx context.Context) ([]string, error)
	// Fetch copies the bytes of the named file verbatim into w.
	Fetch(ctx context.Context, name string, w io.Writer) error
	Close() error
}

// Source opens sessions against the remote file store.
type Source interface {
	Connect(ctx context.Context) (Session, error)
}
