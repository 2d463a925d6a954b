package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
	"SignalServe/pkg/cache"
	applogger "SignalServe/pkg/logger"
)

// CachedPredictions stores inference results in a cache.Service.
type CachedPredictions struct {
	svc cache.Service
	ttl time.Duration
	l   *applogger.Logger
}

func NewCachedPredictions(svc cache.Service, ttl time.Duration, l *applogger.Logger) repository.PredictionCache {
	return &CachedPredictions{svc: svc, ttl: ttl, l: l}
}

func (c *CachedPredictions) Get(ctx context.Context, slot models.SlotName, digest string, rows [][]float64) (float64, bool) {
	key := PredictionKey(slot, digest, rows)
	raw, err := c.svc.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.l.Warn("prediction cache get failed", applogger.String("key", key), applogger.Error(err))
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *CachedPredictions) Set(ctx context.Context, slot models.SlotName, digest string, rows [][]float64, value float64) {
	key := PredictionKey(slot, digest, rows)
	if err := c.svc.Set(ctx, key, strconv.FormatFloat(value, 'g', -1, 64), c.ttl); err != nil {
		c.l.Warn("prediction cache set failed", applogger.String("key", key), applogger.Error(err))
	}
}

// PredictionKey identifies one inference: slot, model digest and the exact rows.
func PredictionKey(slot models.SlotName, digest string, rows [][]float64) string {
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, v := range r {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return cache.GenerateKeyWithParams("pred", slot, cache.HashKey(digest), cache.HashKey(b.String()))
}
