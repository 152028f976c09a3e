package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/avatar"
	"github.com/bobarin/storyreel/internal/logger"
	"github.com/bobarin/storyreel/internal/models"
)

const (
	didBaseURL          = "https://api.d-id.com"
	didDefaultSource    = "https://d-id-public-bucket.s3.us-west-2.amazonaws.com/alice.jpg"
	didDefaultProvider  = "microsoft"
	didDefaultVoiceID   = "Sara"
	didPresenterListMax = 100
)

// didPresenterSources maps the stock presenter names to source images.
var didPresenterSources = map[string]string{
	"amy":     didDefaultSource,
	"david":   didDefaultSource,
	"sarah":   didDefaultSource,
	"michael": didDefaultSource,
}

// DIDService is the talks client. It satisfies avatar.Service.
type DIDService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

var _ avatar.Service = (*DIDService)(nil)

func NewDIDService(apiKey, baseURL string, log *logger.Logger) *DIDService {
	if baseURL == "" {
		baseURL = didBaseURL
	}
	return &DIDService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     logger.OrDiscard(log).WithComponent("d-id"),
	}
}

type didScriptProvider struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type didScript struct {
	Type     string            `json:"type"`
	Input    string            `json:"input"`
	Provider didScriptProvider `json:"provider"`
}

type didTalkRequest struct {
	SourceURL string    `json:"source_url"`
	Script    didScript `json:"script"`
	Config    struct {
		Fluent bool `json:"fluent"`
	} `json:"config"`
}

type didTalkResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     *struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

// presenterSource resolves a presenter id to its source image. Unknown and
// empty ids use the default presenter.
func presenterSource(presenterID string) string {
	if src, ok := didPresenterSources[strings.ToLower(presenterID)]; ok {
		return src
	}
	return didDefaultSource
}

// Submit creates a talk and returns its id.
func (s *DIDService) Submit(ctx context.Context, req avatar.Request) (string, error) {
	provider := req.Provider
	if provider == "" {
		provider = didDefaultProvider
	}
	voice := req.VoiceID
	if voice == "" {
		voice = didDefaultVoiceID
	}

	body := didTalkRequest{
		SourceURL: presenterSource(req.PresenterID),
		Script: didScript{
			Type:     "text",
			Input:    req.Script,
			Provider: didScriptProvider{Type: provider, VoiceID: voice},
		},
	}

	var talk didTalkResponse
	if err := s.doJSON(ctx, http.MethodPost, "/talks", body, &talk); err != nil {
		return "", err
	}
	if talk.ID == "" {
		return "", fmt.Errorf("d-id: talk response has no id")
	}

	s.log.Info("talk submitted", "talk_id", talk.ID, "presenter", req.PresenterID)
	return talk.ID, nil
}

// Poll reads the talk's current status.
func (s *DIDService) Poll(ctx context.Context, talkID string) (avatar.Status, error) {
	var talk didTalkResponse
	if err := s.doJSON(ctx, http.MethodGet, "/talks/"+talkID, nil, &talk); err != nil {
		return avatar.Status{}, err
	}
	return talkStatus(talk), nil
}

func talkStatus(talk didTalkResponse) avatar.Status {
	switch talk.Status {
	case "done":
		return avatar.Status{State: avatar.StateDone, ResultURL: talk.ResultURL}
	case "error", "rejected":
		reason := talk.Status
		if talk.Error != nil && talk.Error.Description != "" {
			reason = talk.Error.Description
		}
		return avatar.Status{State: avatar.StateError, Reason: reason}
	default:
		return avatar.Status{State: avatar.StateProcessing}
	}
}

// ListPresenters returns the stock clip presenters.
func (s *DIDService) ListPresenters(ctx context.Context) ([]models.Presenter, error) {
	var out struct {
		Presenters []struct {
			PresenterID  string `json:"presenter_id"`
			Name         string `json:"name"`
			Gender       string `json:"gender"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"presenters"`
	}
	path := fmt.Sprintf("/clips/presenters?limit=%d", didPresenterListMax)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "d-id.presenters", "list presenters")
	}

	presenters := make([]models.Presenter, 0, len(out.Presenters))
	for _, p := range out.Presenters {
		presenters = append(presenters, models.Presenter{
			ID:           p.PresenterID,
			Name:         p.Name,
			Gender:       p.Gender,
			ThumbnailURL: p.ThumbnailURL,
		})
	}
	return presenters, nil
}

// ListVoices returns the TTS voices the talks API can speak with.
func (s *DIDService) ListVoices(ctx context.Context) ([]models.Voice, error) {
	var voices []models.Voice
	if err := s.doJSON(ctx, http.MethodGet, "/tts/voices", nil, &voices); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "d-id.voices", "list voices")
	}
	return voices, nil
}

// Download fetches a finished talk video from its result URL.
func (s *DIDService) Download(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := apperr.FromContext(ctx, "d-id.download"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "d-id.download", "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeUpstream, "d-id.download", "status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "d-id.download", "read body")
	}
	return data, nil
}

func (s *DIDService) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("d-id request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("d-id returned status %d: %s", resp.StatusCode, truncateString(string(respBody), maxLogLen))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
