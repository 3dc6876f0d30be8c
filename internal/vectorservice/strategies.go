package vectorservice

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/fallback"
)

// Strategy names, in default chain order.
const (
	StrategyRemote  = "remote"
	StrategyLocal   = "local"
	StrategyKeyword = "keyword"
	StrategyCache   = "cache"
)

var (
	errNoMatches     = errors.New("no matches")
	errNoQueryVector = errors.New("no query vector available without the remote service")
	errNoKeywordText = errors.New("keyword search needs query text")
)

// KeywordSearcher runs plain text search over stored entities.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, campaignID, text string, opts apptype.SearchOptions) ([]apptype.SearchResult, error)
}

func (s *Service) defaultStrategies() []fallback.Strategy {
	out := []fallback.Strategy{
		fallback.NewStrategy(StrategyRemote, s.searchRemote),
		fallback.NewStrategy(StrategyLocal, s.searchLocal),
	}
	if s.keyword != nil {
		out = append(out, fallback.NewStrategy(StrategyKeyword, s.searchKeyword))
	}
	return append(out, fallback.NewStrategy(StrategyCache, s.searchCached))
}

// searchRemote embeds the query text when needed and queries the remote
// index. Results carrying vectors are mirrored into the local processor and
// the result set is written to the search cache.
func (s *Service) searchRemote(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	vec := q.Vector
	if len(vec) == 0 {
		v, err := s.embed(ctx, q.Text, apptype.EmbeddingOptions{})
		if err != nil {
			return nil, err
		}
		vec = v
	}
	res, err := callRemote(ctx, s, "find_similar", func(ctx context.Context) ([]apptype.SearchResult, error) {
		return s.remote.FindSimilar(ctx, vec, opts)
	})
	if err != nil {
		return nil, err
	}
	mirrored := 0
	for i := range res {
		r := &res[i]
		if len(r.Vector) > 0 && s.local.AddVector(r.EntityID, r.EntityType, r.Vector, r.Metadata) {
			mirrored++
		}
		r.Vector = nil
	}
	if mirrored > 0 {
		s.logger.Debug("mirrored remote results", zap.Int("count", mirrored))
	}
	s.cacheResults(ctx, q, opts, res)
	return res, nil
}

// searchLocal never calls the remote: the query vector comes from the query
// itself or from the embedding cache.
func (s *Service) searchLocal(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	vec := q.Vector
	if len(vec) == 0 {
		v, ok := s.embeddings.Get(ctx, embeddingKey(q.Text, ""))
		if !ok {
			return nil, errNoQueryVector
		}
		vec = v
	}
	res := s.local.FindSimilar(vec, opts.EntityTypes, opts.Limit, opts.MinScore)
	if len(res) == 0 {
		return nil, errNoMatches
	}
	return res, nil
}

func (s *Service) searchKeyword(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	if q.Text == "" {
		return nil, errNoKeywordText
	}
	res, err := s.keyword.SearchKeyword(ctx, opts.CampaignID, q.Text, opts)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errNoMatches
	}
	return res, nil
}

// searchCached serves the last remote answer for the same query, refiltered
// for the requested options.
func (s *Service) searchCached(ctx context.Context, q apptype.Query, opts apptype.SearchOptions) ([]apptype.SearchResult, error) {
	if res, ok := s.searches.Get(ctx, searchKey(q, opts)); ok {
		return slices.Clone(res), nil
	}
	last, ok := s.searches.Get(ctx, lastKey(q))
	if !ok {
		return nil, errNoMatches
	}
	out := make([]apptype.SearchResult, 0, len(last))
	for _, r := range last {
		if !opts.AllowsType(r.EntityType) || r.Score < opts.MinScore {
			continue
		}
		out = append(out, r)
		if len(out) == opts.Limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoMatches
	}
	return out, nil
}

func (s *Service) cacheResults(ctx context.Context, q apptype.Query, opts apptype.SearchOptions, res []apptype.SearchResult) {
	s.searches.Set(ctx, searchKey(q, opts), slices.Clone(res), 0)
	s.searches.Set(ctx, lastKey(q), slices.Clone(res), 0)
}

func searchKey(q apptype.Query, opts apptype.SearchOptions) string {
	return "q:" + q.Key() + "|" + opts.Key()
}

func lastKey(q apptype.Query) string { return "last:" + q.Key() }

func embeddingKey(text, model string) string {
	return "emb:" + model + ":" + apptype.Query{Text: text}.Key()
}
