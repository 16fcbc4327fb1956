package llm

import "net/http"

// Option configures a provider client.
type Option func(*Options)

// Options are shared by every provider constructor.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func WithAPIKey(key string) Option {
	return func(o *Options) { o.APIKey = key }
}

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// NewOptions applies opts over defaults. The default HTTP client is
// http.DefaultClient.
func NewOptions(opts ...Option) Options {
	o := Options{HTTPClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
