package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/pipeline"
)

type fakeCrawlService struct {
	available bool
	result    json.RawMessage
	err       error
	submitted []crawlworker.TaskParams
}

func (f *fakeCrawlService) Available(context.Context) bool {
	return f.available
}

func (f *fakeCrawlService) SubmitTask(_ context.Context, params crawlworker.TaskParams) (*crawlworker.Task, error) {
	f.submitted = append(f.submitted, params)
	if f.err != nil {
		return nil, f.err
	}
	return &crawlworker.Task{
		ID:       "task-1",
		Status:   crawlworker.TaskCompleted,
		Progress: 100,
		Result:   f.result,
	}, nil
}

func discoverJob(keyword string) pipeline.Job {
	return pipeline.Job{
		ID:      "job-1",
		Type:    pipeline.TypeDiscover,
		Payload: pipeline.Payload{Keyword: keyword, Country: "us"},
	}
}

func TestHandleDiscoverReturnsWorkerResult(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: json.RawMessage(`{"count":12,"apps":[]}`)}
	result, err := handleDiscover(context.Background(), crawl, discoverJob("meal planner"))
	require.NoError(t, err)
	require.JSONEq(t, `{"count":12,"apps":[]}`, string(result))

	require.Len(t, crawl.submitted, 1)
	require.Equal(t, "meal planner", crawl.submitted[0].Keyword)
	require.Equal(t, discoverLimitDefault, crawl.submitted[0].Limit)
}

func TestHandleDiscoverNoUsableData(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: nil}
	_, err := handleDiscover(context.Background(), crawl, discoverJob("meal planner"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no usable data")
}

func TestHandleScoreBasicComputesScore(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: json.RawMessage(`{
		"count": 500,
		"apps": [
			{"name": "A", "ref": "1", "rating": 4.8, "ratings_count": 120000},
			{"name": "B", "ref": "2", "rating": 4.5, "ratings_count": 40000}
		]
	}`)}

	job := pipeline.Job{
		ID:      "job-1",
		Type:    pipeline.TypeScoreBasic,
		Payload: pipeline.Payload{Keyword: "meal planner", Country: "us"},
	}
	result, err := handleScoreBasic(context.Background(), crawl, job)
	require.NoError(t, err)

	var decoded struct {
		Keyword    string `json:"keyword"`
		Score      int    `json:"score"`
		SampleSize int    `json:"sample_size"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, "meal planner", decoded.Keyword)
	require.Equal(t, 2, decoded.SampleSize)
	require.Greater(t, decoded.Score, 0)
	require.LessOrEqual(t, decoded.Score, 100)

	require.Equal(t, scoreSampleLimit, crawl.submitted[0].Limit, "scoring uses the bounded sample")
}

func TestHandleScoreBasicEmptySample(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: json.RawMessage(`{"count":0,"apps":[]}`)}
	job := pipeline.Job{
		Payload: pipeline.Payload{Keyword: "xyzzy", Country: "us"},
	}
	result, err := handleScoreBasic(context.Background(), crawl, job)
	require.NoError(t, err)

	var decoded struct {
		Score int `json:"score"`
	}
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Zero(t, decoded.Score)
}

func TestHandleEnrichFullRequiresAppRef(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: json.RawMessage(`{}`)}
	job := pipeline.Job{
		Payload: pipeline.Payload{Keyword: "meal planner", Country: "us"},
	}
	_, err := handleEnrichFull(context.Background(), crawl, job)
	require.ErrorIs(t, err, pipeline.ErrInvalidPayload)
	require.Empty(t, crawl.submitted)
}

func TestHandleEnrichFullPassesThroughResult(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{result: json.RawMessage(`{"app_ref":"123","reviews":[{"rating":5}]}`)}
	job := pipeline.Job{
		Payload: pipeline.Payload{AppRef: "123", Country: "us", Limit: 40},
	}
	result, err := handleEnrichFull(context.Background(), crawl, job)
	require.NoError(t, err)
	require.JSONEq(t, `{"app_ref":"123","reviews":[{"rating":5}]}`, string(result))
	require.Equal(t, 40, crawl.submitted[0].Limit)
}

func TestHandlersSurfaceWorkerErrors(t *testing.T) {
	t.Parallel()

	crawl := &fakeCrawlService{err: pipeline.ErrWorkerUnavailable}
	_, err := handleDiscover(context.Background(), crawl, discoverJob("meal planner"))
	require.ErrorIs(t, err, pipeline.ErrWorkerUnavailable)
}
