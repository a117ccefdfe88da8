package adaptive

import (
	"github.com/go-logr/logr"

	"github.com/incrkit/incrkit/pkg/refset"
)

// Option configures a collection constructor.
type Option func(*options)

type options struct {
	log   logr.Logger
	keyFn refset.KeyFunc
}

// WithLogger threads a logger into the collection and every reader derived
// from it. The default discards all output.
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithKeyFunc sets the element identity strategy. The default is
// refset.JSONKey, which gives structural identity to plain values and
// pointer identity to collections and cells (via refset.Keyer).
func WithKeyFunc(keyFn refset.KeyFunc) Option {
	return func(o *options) { o.keyFn = keyFn }
}

func makeOptions(opts []Option) options {
	o := options{
		log:   logr.Discard(),
		keyFn: refset.JSONKey,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
