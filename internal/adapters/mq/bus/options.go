package bus

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.buffer = size
		}
	}
}
