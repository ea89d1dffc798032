package embed

import "fmt"

// New builds the configured embedder wrapped in the LRU cache.
// provider is "openai" or "static"; an openai provider without an API key
// degrades to static so the vector tier keeps working offline.
func New(provider string, openai OpenAIConfig, cacheSize int) (Embedder, error) {
	var inner Embedder

	switch provider {
	case "openai":
		if openai.APIKey == "" {
			static, err := NewStaticEmbedder(openai.Dimensions)
			if err != nil {
				return nil, err
			}
			inner = static
		} else {
			inner = NewOpenAIEmbedder(openai)
		}
	case "static", "":
		dims := openai.Dimensions
		if dims <= 0 {
			dims = DefaultDimensions
		}
		static, err := NewStaticEmbedder(dims)
		if err != nil {
			return nil, err
		}
		inner = static
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}

	return NewCachedEmbedder(inner, cacheSize)
}
