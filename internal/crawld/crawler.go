package crawld

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/crawlworker"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	defaultFetchTimeout = 15 * time.Second
	reviewsPerPage      = 50
	maxReviewPages      = 10
)

// StoreClient executes crawls against the app store. Implementations report
// progress through the callback as they work.
type StoreClient interface {
	Search(ctx context.Context, params crawlworker.TaskParams, report func(int)) (json.RawMessage, error)
	Reviews(ctx context.Context, params crawlworker.TaskParams, report func(int)) (json.RawMessage, error)
}

// ClientConfig points the crawler at the store endpoints. Both URLs default
// to the public store API and exist as knobs for tests.
type ClientConfig struct {
	SearchBaseURL  string
	ReviewsBaseURL string
	UserAgent      string
	FetchTimeout   time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.SearchBaseURL == "" {
		c.SearchBaseURL = "https://itunes.apple.com"
	}
	if c.ReviewsBaseURL == "" {
		c.ReviewsBaseURL = "https://itunes.apple.com"
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
}

// CollyClient is the production StoreClient backed by colly.
type CollyClient struct {
	cfg    ClientConfig
	logger *zap.Logger
}

// NewCollyClient constructs a CollyClient.
func NewCollyClient(cfg ClientConfig, logger *zap.Logger) *CollyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &CollyClient{cfg: cfg, logger: logger}
}

func (c *CollyClient) collector() *colly.Collector {
	col := colly.NewCollector(
		colly.UserAgent(c.cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	col.SetRequestTimeout(c.cfg.FetchTimeout)
	return col
}

// fetch performs one GET and returns the raw body.
func (c *CollyClient) fetch(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		body     []byte
		fetchErr error
	)
	col := c.collector()
	col.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	col.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})
	if err := col.Visit(target); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	col.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
	}
	return body, nil
}

// storeSearchResponse is the store's search API shape.
type storeSearchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackID           int64   `json:"trackId"`
		TrackName         string  `json:"trackName"`
		AverageUserRating float64 `json:"averageUserRating"`
		UserRatingCount   int     `json:"userRatingCount"`
		PrimaryGenreName  string  `json:"primaryGenreName"`
		ArtistName        string  `json:"artistName"`
	} `json:"results"`
}

// Search crawls the keyword listing and returns the normalized app set.
func (c *CollyClient) Search(ctx context.Context, params crawlworker.TaskParams, report func(int)) (json.RawMessage, error) {
	report(10)

	q := url.Values{}
	q.Set("term", params.Keyword)
	q.Set("country", params.Country)
	q.Set("entity", "software")
	q.Set("limit", strconv.Itoa(params.Limit))
	target := c.cfg.SearchBaseURL + "/search?" + q.Encode()

	body, err := c.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	report(60)

	var raw storeSearchResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	type app struct {
		Name         string  `json:"name"`
		Ref          string  `json:"ref"`
		Developer    string  `json:"developer,omitempty"`
		Category     string  `json:"category,omitempty"`
		Rating       float64 `json:"rating"`
		RatingsCount int     `json:"ratings_count"`
	}
	apps := make([]app, 0, len(raw.Results))
	for _, r := range raw.Results {
		apps = append(apps, app{
			Name:         r.TrackName,
			Ref:          strconv.FormatInt(r.TrackID, 10),
			Developer:    r.ArtistName,
			Category:     r.PrimaryGenreName,
			Rating:       r.AverageUserRating,
			RatingsCount: r.UserRatingCount,
		})
	}
	report(90)

	out, err := json.Marshal(map[string]any{
		"keyword": params.Keyword,
		"country": params.Country,
		"count":   raw.ResultCount,
		"apps":    apps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search result: %w", err)
	}
	c.logger.Debug("search crawl done",
		zap.String("keyword", params.Keyword),
		zap.Int("apps", len(apps)))
	return out, nil
}

// storeReviewsFeed is the store's review feed shape. The first entry on
// page one is the app itself and carries no rating.
type storeReviewsFeed struct {
	Feed struct {
		Entry []struct {
			Author struct {
				Name struct {
					Label string `json:"label"`
				} `json:"name"`
			} `json:"author"`
			Title struct {
				Label string `json:"label"`
			} `json:"title"`
			Content struct {
				Label string `json:"label"`
			} `json:"content"`
			Rating struct {
				Label string `json:"label"`
			} `json:"im:rating"`
			Version struct {
				Label string `json:"label"`
			} `json:"im:version"`
		} `json:"entry"`
	} `json:"feed"`
}

type review struct {
	Author  string `json:"author,omitempty"`
	Title   string `json:"title,omitempty"`
	Text    string `json:"text"`
	Rating  int    `json:"rating"`
	Version string `json:"version,omitempty"`
}

// Reviews paginates the review feed for the app until the limit is met or
// the feed runs dry.
func (c *CollyClient) Reviews(ctx context.Context, params crawlworker.TaskParams, report func(int)) (json.RawMessage, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = reviewsPerPage
	}
	pages := (limit + reviewsPerPage - 1) / reviewsPerPage
	if pages > maxReviewPages {
		pages = maxReviewPages
	}

	reviews := make([]review, 0, limit)
	for page := 1; page <= pages; page++ {
		target := fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=mostrecent/json",
			c.cfg.ReviewsBaseURL, params.Country, page, params.AppRef)
		body, err := c.fetch(ctx, target)
		if err != nil {
			// Pages past the end 404; keep what we have if any.
			if len(reviews) > 0 {
				break
			}
			return nil, err
		}

		var feed storeReviewsFeed
		if err := json.Unmarshal(body, &feed); err != nil {
			return nil, fmt.Errorf("decode reviews page %d: %w", page, err)
		}

		pageReviews := 0
		for _, entry := range feed.Feed.Entry {
			rating, err := strconv.Atoi(entry.Rating.Label)
			if err != nil {
				// App-metadata entries have no rating.
				continue
			}
			reviews = append(reviews, review{
				Author:  entry.Author.Name.Label,
				Title:   entry.Title.Label,
				Text:    entry.Content.Label,
				Rating:  rating,
				Version: entry.Version.Label,
			})
			pageReviews++
			if len(reviews) >= limit {
				break
			}
		}
		report(10 + page*90/pages)
		if pageReviews == 0 || len(reviews) >= limit {
			break
		}
	}

	out, err := json.Marshal(map[string]any{
		"app_ref": params.AppRef,
		"country": params.Country,
		"count":   len(reviews),
		"reviews": reviews,
	})
	if err != nil {
		return nil, fmt.Errorf("encode reviews result: %w", err)
	}
	c.logger.Debug("review crawl done",
		zap.String("app_ref", params.AppRef),
		zap.Int("reviews", len(reviews)))
	return out, nil
}
