package utils

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// TiktokenCounter counts tokens with a tiktoken encoding, loaded on first
// use. When the encoding cannot be loaded it falls back to EstimateTokens.
type TiktokenCounter struct {
	Encoding string
	Logger   zerolog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string, logger zerolog.Logger) *TiktokenCounter {
	return &TiktokenCounter{Encoding: encoding, Logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.Encoding)
		if err != nil {
			c.Logger.Warn().Err(err).Str("encoding", c.Encoding).Msg("tiktoken encoding unavailable, estimating tokens")
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates token counts without an encoding table.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens assumes roughly four characters per token.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
