package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
)

const (
	unsplashBaseURL     = "https://api.unsplash.com"
	unsplashMaxPerPage  = 30
	unsplashRenderWidth = 2200
)

// ImageSource finds and fetches images for a topic.
type ImageSource interface {
	Search(ctx context.Context, query string, count int) ([]models.ImageRef, error)
	Download(ctx context.Context, ref models.ImageRef) ([]byte, error)
}

type UnsplashService struct {
	accessKey string
	baseURL   string
	client    *http.Client
	log       *logger.Logger
}

var _ ImageSource = (*UnsplashService)(nil)

func NewUnsplashService(accessKey, baseURL string, log *logger.Logger) *UnsplashService {
	if baseURL == "" {
		baseURL = unsplashBaseURL
	}
	return &UnsplashService{
		accessKey: accessKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 60 * time.Second},
		log:       logger.OrDiscard(log).WithComponent("unsplash"),
	}
}

type unsplashPhoto struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
	URLs           struct {
		Raw   string `json:"raw"`
		Thumb string `json:"thumb"`
	} `json:"urls"`
	User struct {
		Name  string `json:"name"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
	} `json:"user"`
}

type unsplashSearchResponse struct {
	Total   int             `json:"total"`
	Results []unsplashPhoto `json:"results"`
}

// Search returns exactly count landscape images for query.
func (s *UnsplashService) Search(ctx context.Context, query string, count int) ([]models.ImageRef, error) {
	if count <= 0 || count > unsplashMaxPerPage {
		return nil, apperr.Newf(apperr.CodeConfiguration, "unsplash.search", "image count must be 1..%d, got %d", unsplashMaxPerPage, count)
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(count))
	q.Set("orientation", "landscape")
	q.Set("order_by", "relevant")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search/photos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+s.accessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "unsplash.search"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unsplash.search", "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unsplash.search", "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeUpstream, "unsplash.search", "status %d: %s", resp.StatusCode, truncateString(string(body), maxLogLen))
	}

	var out unsplashSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unsplash.search", "invalid JSON response")
	}

	if len(out.Results) < count {
		return nil, apperr.Newf(apperr.CodeUpstream, "unsplash.search", "found %d images for %q, need %d", len(out.Results), query, count)
	}

	refs := make([]models.ImageRef, 0, count)
	for _, p := range out.Results[:count] {
		desc := p.Description
		if desc == "" {
			desc = p.AltDescription
		}
		refs = append(refs, models.ImageRef{
			ID:          p.ID,
			RawURL:      p.URLs.Raw,
			ThumbURL:    p.URLs.Thumb,
			Description: desc,
			Author:      p.User.Name,
			AuthorURL:   p.User.Links.HTML,
		})
	}

	s.log.Info("images found", "query", query, "count", len(refs), "total", out.Total)
	return refs, nil
}

// renderURL asks the CDN for a render-sized JPEG.
func renderURL(raw string) string {
	sep := "&"
	if !strings.Contains(raw, "?") {
		sep = "?"
	}
	return fmt.Sprintf("%s%sw=%d&fit=max&q=85", raw, sep, unsplashRenderWidth)
}

// Download fetches ref at render resolution.
func (s *UnsplashService) Download(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	if ref.RawURL == "" {
		return nil, apperr.Newf(apperr.CodeMissingAsset, "unsplash.download", "image %s has no URL", ref.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, renderURL(ref.RawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "unsplash.download"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unsplash.download", "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeUpstream, "unsplash.download", "image %s: status %d", ref.ID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "unsplash.download", "read body")
	}
	if len(data) == 0 {
		return nil, apperr.Newf(apperr.CodeMissingAsset, "unsplash.download", "image %s is empty", ref.ID)
	}
	return data, nil
}
