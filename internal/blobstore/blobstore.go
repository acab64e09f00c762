// Package blobstore is the S3-compatible object store collaborator:
// it holds a call's audio, keyed by when the call happened, so the
// intake surface, the worker, and notification dispatch can all derive
// the same object key from a call's metadata without a lookup.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Store is the blob storage contract. Put returns the publicly
// reachable URL for the object it just wrote, since objects are stored
// with a public-read ACL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
}

// BuildKey derives the object key for a call's audio from its start
// time, system short name, and talkgroup id:
// YYYY/MM/DD/HH/YYYYMMDD_HHMMSS_<short_name>_<talkgroup>.ext
func BuildKey(startTime time.Time, shortName string, talkgroup int, ext string) string {
	startTime = startTime.UTC()
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s_%s_%d.%s",
		startTime.Format("2006/01/02/15"),
		startTime.Format("20060102_150405"),
		shortName,
		talkgroup,
		ext,
	)
}

// contentTypes maps a recognized audio extension to its MIME type.
// The intake surface only ever writes the handful of container formats
// trunk-recorder produces, so a small fixed table beats a dependency
// on the OS mime database (which varies by platform and isn't always
// present in a minimal container image).
var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
	".ogg": "audio/ogg",
}

// ContentTypeForName deduces a content type from a file name's
// extension, defaulting to audio/mpeg (every call the pipeline handles
// is audio).
func ContentTypeForName(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "audio/mpeg"
}
