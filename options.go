package dictgo

import (
	"context"
	"time"

	"github.com/hupe1980/dictgo/internal/fs"
)

type options struct {
	logger    *Logger
	fsys      fs.FileSystem
	idp       IDProvider
	roles     RoleProvider
	publisher Publisher
	collector MetricsCollector
	now       func() time.Time
	seed      uint64
}

// Option configures the engine constructor.
type Option func(*options)

// WithLogger sets the logger. Nil restores the default text logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NewLogger(nil)
		}
		o.logger = l
	}
}

// WithFileSystem overrides the file system, mainly for fault-injection
// tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithIDProvider sets the external dictionary id provider. The default
// allocates locally, which is only safe on a single node.
func WithIDProvider(p IDProvider) Option {
	return func(o *options) {
		o.idp = p
	}
}

// WithRoleProvider sets the node role source. The default is a permanent
// master, which runs the trainer and the GC.
func WithRoleProvider(p RoleProvider) Option {
	return func(o *options) {
		o.roles = p
	}
}

// WithPublisher registers a callback invoked after a new dictionary has been
// persisted locally. Publish failures are logged and do not fail training.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithMetricsCollector registers a collector for operational events. The
// default discards them.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(o *options) {
		o.collector = c
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSeed fixes the reservoir RNG seed for reproducible sampling.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Publisher receives every newly persisted dictionary. Implementations
// typically forward the artifacts to a blobstore.Store.
type Publisher interface {
	PublishDict(ctx context.Context, id uint16, basename string, dictBytes, manifestBytes []byte) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, id uint16, basename string, dictBytes, manifestBytes []byte) error

// PublishDict implements Publisher.
func (f PublisherFunc) PublishDict(ctx context.Context, id uint16, basename string, dictBytes, manifestBytes []byte) error {
	return f(ctx, id, basename, dictBytes, manifestBytes)
}
