// Package ratelimit implements the relay's rate limits: per-channel message
// throttling on the WebSocket side and per-IP throttling of upgrade attempts.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/time/rate"

	"github.com/lernkartei/relay/internal/v1/metrics"
)

const (
	// MessagesPerSecond is the soft per-channel limit. Breaching it earns an
	// error frame; the message is not processed.
	MessagesPerSecond = 20
	// hardMultiplier: sustained flooding at 3x the soft limit closes the channel.
	hardMultiplier = 3
	// RestoreMinInterval spaces restore_room attempts per channel.
	RestoreMinInterval = 5 * time.Second
)

// Verdict is the outcome of a per-message rate check.
type Verdict int

const (
	VerdictOK    Verdict = iota // process the message
	VerdictWarn                 // drop the message, send an error frame
	VerdictClose                // close the channel
)

// MessageLimiter throttles one channel's inbound messages. Two token
// buckets: the soft bucket enforces the advertised limit, the hard bucket
// catches channels that keep flooding after being warned.
type MessageLimiter struct {
	soft *rate.Limiter
	hard *rate.Limiter
}

// NewMessageLimiter creates a limiter with the protocol's bounds.
func NewMessageLimiter() *MessageLimiter {
	return &MessageLimiter{
		soft: rate.NewLimiter(MessagesPerSecond, MessagesPerSecond),
		hard: rate.NewLimiter(MessagesPerSecond*hardMultiplier, MessagesPerSecond*hardMultiplier),
	}
}

// Check consumes one message worth of budget and returns the verdict.
func (l *MessageLimiter) Check() Verdict {
	if !l.hard.Allow() {
		return VerdictClose
	}
	if !l.soft.Allow() {
		return VerdictWarn
	}
	return VerdictOK
}

// RestoreLimiter spaces restore_room attempts: one per RestoreMinInterval
// per channel.
type RestoreLimiter struct {
	limiter *rate.Limiter
}

// NewRestoreLimiter creates a restore limiter with the protocol's interval.
func NewRestoreLimiter() *RestoreLimiter {
	return &RestoreLimiter{limiter: rate.NewLimiter(rate.Every(RestoreMinInterval), 1)}
}

// Allow reports whether a restore attempt may proceed now.
func (l *RestoreLimiter) Allow() bool {
	return l.limiter.Allow()
}

// ConnLimiter throttles WebSocket upgrade attempts per client IP. Backed by
// an in-memory store; the relay owns all its rooms, so there is no shared
// store to coordinate with.
type ConnLimiter struct {
	ws *limiter.Limiter
}

// NewConnLimiter parses a rate in ulule/limiter format (e.g. "60-M").
func NewConnLimiter(format string) (*ConnLimiter, error) {
	r, err := limiter.NewRateFromFormatted(format)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	return &ConnLimiter{ws: limiter.New(memory.NewStore(), r)}, nil
}

// CheckWebSocket checks if a WebSocket upgrade should be allowed.
// Returns true if allowed, false if limit exceeded (and writes the error).
func (cl *ConnLimiter) CheckWebSocket(c *gin.Context) bool {
	lctx, err := cl.ws.Get(c.Request.Context(), c.ClientIP())
	if err != nil {
		// Store failure: fail open, availability over strictness
		return true
	}

	if lctx.Reached {
		metrics.RateLimited.WithLabelValues("connect").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
