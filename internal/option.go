package internal

// Option is a functional option applied when Run assembles the arkiv
// application.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies a pre-loaded configuration instead of the
// defaults.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
