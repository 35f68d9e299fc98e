package restock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tohirbeka1997-ops/poos/internal/cache"
	"github.com/tohirbeka1997-ops/poos/internal/domain"
)

// MoveLoader returns recent stock moves for one product, newest first.
type MoveLoader func(ctx context.Context, productID string) ([]domain.StockMove, error)

type Engine struct {
	cache     cache.RestockCache
	cacheTTL  time.Duration
	window    time.Duration
	coverDays float64
	now       func() time.Time
	group     singleflight.Group
}

func NewEngine(cacheStore cache.RestockCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopRestockCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Engine{
		cache:     cacheStore,
		cacheTTL:  cacheTTL,
		window:    14 * 24 * time.Hour,
		coverDays: 7,
		now:       time.Now,
	}
}

// Suggest ranks products at or below their minimum stock. The cache key is
// derived from the candidates' current stock, so any stock change yields a
// fresh computation.
func (e *Engine) Suggest(ctx context.Context, products []domain.Product, loadMoves MoveLoader) (domain.RestockResponse, error) {
	startedAt := time.Now()

	candidates := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Active && p.Stock <= p.MinStock {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	if len(candidates) == 0 {
		return domain.RestockResponse{
			Suggestions: []domain.RestockSuggestion{},
			GeneratedAt: e.now().UTC(),
			LatencyMS:   time.Since(startedAt).Milliseconds(),
		}, nil
	}

	cacheKey := buildCacheKey(candidates)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached, nil
	}

	v, err, _ := e.group.Do(cacheKey, func() (any, error) {
		resp, err := e.compute(ctx, candidates, loadMoves)
		if err != nil {
			return nil, err
		}
		_ = e.cache.Set(ctx, cacheKey, &resp, e.cacheTTL)
		return resp, nil
	})
	if err != nil {
		return domain.RestockResponse{}, err
	}

	resp := v.(domain.RestockResponse)
	resp.LatencyMS = time.Since(startedAt).Milliseconds()
	return resp, nil
}

func (e *Engine) compute(ctx context.Context, candidates []domain.Product, loadMoves MoveLoader) (domain.RestockResponse, error) {
	now := e.now().UTC()
	since := now.Add(-e.window)
	windowDays := e.window.Hours() / 24

	suggestions := make([]domain.RestockSuggestion, 0, len(candidates))
	for _, p := range candidates {
		moves, err := loadMoves(ctx, p.ID)
		if err != nil {
			return domain.RestockResponse{}, fmt.Errorf("load moves for %s: %w", p.ID, err)
		}

		outbound := 0
		for _, m := range moves {
			if m.Type == domain.MoveOut && m.RefType == domain.RefSale && !m.CreatedAt.Before(since) {
				outbound += m.Qty
			}
		}
		daily := float64(outbound) / windowDays

		shortfallScore := clamp(float64(p.MinStock-p.Stock+1)/float64(p.MinStock+1), 0, 1)
		velocityScore := clamp(daily/10.0, 0, 1)
		stockoutScore := 0.0
		if p.Stock <= 0 {
			stockoutScore = 1
		}

		urgency :=
			0.50*shortfallScore +
				0.35*velocityScore +
				0.15*stockoutScore

		target := max(p.MinStock*2, int(math.Ceil(daily*e.coverDays))+p.MinStock)
		suggested := max(1, target-p.Stock)

		suggestions = append(suggestions, domain.RestockSuggestion{
			ProductID:     p.ID,
			Name:          p.Name,
			Stock:         p.Stock,
			MinStock:      p.MinStock,
			SuggestedQty:  suggested,
			OutboundDaily: round2(daily),
			Urgency:       round2(urgency),
			ReasonCode:    deriveReason(shortfallScore, velocityScore, stockoutScore),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Urgency != suggestions[j].Urgency {
			return suggestions[i].Urgency > suggestions[j].Urgency
		}
		return suggestions[i].Name < suggestions[j].Name
	})

	return domain.RestockResponse{Suggestions: suggestions, GeneratedAt: now}, nil
}

func deriveReason(shortfall float64, velocity float64, stockout float64) string {
	if stockout >= 1 {
		return "out_of_stock"
	}
	if velocity > shortfall {
		return "fast_moving"
	}
	return "below_min_stock"
}

func buildCacheKey(candidates []domain.Product) string {
	parts := make([]string, 0, len(candidates))
	for _, p := range candidates {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", p.ID, p.Stock, p.MinStock))
	}
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "poos:restock:" + hex.EncodeToString(hash[:])
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
