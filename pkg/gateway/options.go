// Package gateway holds the auth and data gateways: thin adapters that turn
// provider calls into domain values and user-facing errors. Gateways never
// panic, never retry and issue exactly one provider call per operation
// (sign-up also provisions the profile and settings rows).
package gateway

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// ObjectUploader is the optional object storage capability used for avatars.
type ObjectUploader interface {
	UploadObject(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) (string, error)
}

// AvatarBucket holds character avatars, keyed by <userID>/<characterID>.
const AvatarBucket = "avatars"

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	objects ObjectUploader
}

// Option configures a gateway.
type Option func(*options)

// WithLogger sets the logger used for failure reports.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used for default session names.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithObjectUploader enables UploadAvatar.
func WithObjectUploader(objects ObjectUploader) Option {
	return func(o *options) {
		o.objects = objects
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
