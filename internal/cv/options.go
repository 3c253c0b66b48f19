package cv

// Match options
type Option func(*matchOptions)

type matchOptions struct {
	confidence *float64
	region     *Rect
	mode       *MatchMode
}

// WithConfidence overrides the matcher's default confidence threshold
func WithConfidence(c float64) Option {
	return func(opts *matchOptions) {
		opts.confidence = &c
	}
}

// WithRegion restricts the search to r. A nil region searches the whole frame.
func WithRegion(r *Rect) Option {
	return func(opts *matchOptions) {
		opts.region = r
	}
}

// WithMode overrides the matcher's default strategy
func WithMode(m MatchMode) Option {
	return func(opts *matchOptions) {
		opts.mode = &m
	}
}
