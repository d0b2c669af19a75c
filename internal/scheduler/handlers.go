package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/pipeline"
)

// CrawlService is the slice of the orchestrator the handlers consume.
type CrawlService interface {
	Available(ctx context.Context) bool
	SubmitTask(ctx context.Context, params crawlworker.TaskParams) (*crawlworker.Task, error)
}

const (
	discoverLimitDefault = 25
	scoreSampleLimit     = 10
	enrichLimitDefault   = 100
)

// RegisterHandlers binds the three job type handlers to the scheduler.
func RegisterHandlers(s *Scheduler, crawl CrawlService) {
	s.Register(pipeline.TypeDiscover, pipeline.HandlerFunc(func(ctx context.Context, job pipeline.Job) (json.RawMessage, error) {
		return handleDiscover(ctx, crawl, job)
	}))
	s.Register(pipeline.TypeScoreBasic, pipeline.HandlerFunc(func(ctx context.Context, job pipeline.Job) (json.RawMessage, error) {
		return handleScoreBasic(ctx, crawl, job)
	}))
	s.Register(pipeline.TypeEnrichFull, pipeline.HandlerFunc(func(ctx context.Context, job pipeline.Job) (json.RawMessage, error) {
		return handleEnrichFull(ctx, crawl, job)
	}))
}

// searchResult is the worker's search task output.
type searchResult struct {
	Count int `json:"count"`
	Apps  []struct {
		Name         string  `json:"name"`
		Ref          string  `json:"ref"`
		Rating       float64 `json:"rating"`
		RatingsCount int     `json:"ratings_count"`
	} `json:"apps"`
}

// handleDiscover crawls the store search listing for the keyword and
// records the apps found.
func handleDiscover(ctx context.Context, crawl CrawlService, job pipeline.Job) (json.RawMessage, error) {
	limit := job.Payload.Limit
	if limit <= 0 {
		limit = discoverLimitDefault
	}
	task, err := crawl.SubmitTask(ctx, crawlworker.TaskParams{
		Keyword: job.Payload.Keyword,
		Country: job.Payload.Country,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", job.Payload.Keyword, err)
	}
	if task == nil || len(task.Result) == 0 {
		return nil, fmt.Errorf("discover %q: worker returned no usable data", job.Payload.Keyword)
	}
	return task.Result, nil
}

// handleScoreBasic derives a keyword difficulty score from a bounded
// search sample: more competitors with stronger rating mass means a higher
// score. Range 0-100.
func handleScoreBasic(ctx context.Context, crawl CrawlService, job pipeline.Job) (json.RawMessage, error) {
	task, err := crawl.SubmitTask(ctx, crawlworker.TaskParams{
		Keyword: job.Payload.Keyword,
		Country: job.Payload.Country,
		Limit:   scoreSampleLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("score %q: %w", job.Payload.Keyword, err)
	}
	if task == nil || len(task.Result) == 0 {
		return nil, fmt.Errorf("score %q: worker returned no usable data", job.Payload.Keyword)
	}

	var search searchResult
	if err := json.Unmarshal(task.Result, &search); err != nil {
		return nil, fmt.Errorf("score %q: decode search result: %w", job.Payload.Keyword, err)
	}
	score := difficultyScore(search)

	out, err := json.Marshal(map[string]any{
		"keyword":     job.Payload.Keyword,
		"country":     job.Payload.Country,
		"score":       score,
		"sample_size": len(search.Apps),
	})
	if err != nil {
		return nil, fmt.Errorf("score %q: encode result: %w", job.Payload.Keyword, err)
	}
	return out, nil
}

// handleEnrichFull pulls the full review set for the payload's app
// reference and returns the worker's result verbatim.
func handleEnrichFull(ctx context.Context, crawl CrawlService, job pipeline.Job) (json.RawMessage, error) {
	if job.Payload.AppRef == "" {
		return nil, fmt.Errorf("%w: enrich_full requires app_ref", pipeline.ErrInvalidPayload)
	}
	limit := job.Payload.Limit
	if limit <= 0 {
		limit = enrichLimitDefault
	}
	task, err := crawl.SubmitTask(ctx, crawlworker.TaskParams{
		AppRef:  job.Payload.AppRef,
		Keyword: job.Payload.Keyword,
		Country: job.Payload.Country,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich %q: %w", job.Payload.AppRef, err)
	}
	if task == nil || len(task.Result) == 0 {
		return nil, fmt.Errorf("enrich %q: worker returned no usable data", job.Payload.AppRef)
	}
	return task.Result, nil
}

// difficultyScore folds competitor count and rating mass into 0-100.
func difficultyScore(search searchResult) int {
	if len(search.Apps) == 0 {
		return 0
	}
	var ratingMass float64
	for _, app := range search.Apps {
		ratingMass += app.Rating * math.Log1p(float64(app.RatingsCount))
	}
	// Competitor count saturates at the sample bound; rating mass dominates.
	competition := math.Min(float64(search.Count), 1000) / 1000 * 30
	strength := math.Min(ratingMass/float64(len(search.Apps))/50, 1) * 70
	return int(math.Round(competition + strength))
}
