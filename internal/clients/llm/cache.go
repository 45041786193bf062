package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aristath/maestro/internal/clientdata"
	"github.com/rs/zerolog"
)

// CachedProvider serves repeated prompts from the cache database
type CachedProvider struct {
	inner Provider
	repo  *clientdata.Repository
	model string
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedProvider wraps inner. model is folded into the cache key.
func NewCachedProvider(inner Provider, repo *clientdata.Repository, model string, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		repo:  repo,
		model: model,
		ttl:   ttl,
		log:   log.With().Str("client", "llm_cache").Logger(),
	}
}

// IsConfigured delegates to the wrapped provider
func (c *CachedProvider) IsConfigured() bool {
	return c.inner.IsConfigured()
}

// Generate returns a cached response for an identical request or calls the
// wrapped provider and caches its answer. Cache failures are logged, not returned.
func (c *CachedProvider) Generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	key := promptHash(c.model, system, prompt, maxTokens)

	if raw, err := c.repo.GetIfFresh(ctx, clientdata.TableLLMResponses, key); err != nil {
		c.log.Warn().Err(err).Msg("Failed to read LLM cache")
	} else if raw != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			c.log.Debug().Str("prompt_hash", key).Msg("LLM cache hit")
			return text, nil
		}
	}

	text, err := c.inner.Generate(ctx, system, prompt, maxTokens)
	if err != nil {
		return "", err
	}

	if err := c.repo.Store(ctx, clientdata.TableLLMResponses, key, text, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("Failed to store LLM response")
	}
	return text, nil
}

func promptHash(model, system, prompt string, maxTokens int) string {
	h := sha256.New()
	for _, part := range []string{model, system, prompt, strconv.Itoa(maxTokens)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
