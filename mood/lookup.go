package mood

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"story-lab/contract"
	"strings"
)

var _ contract.MoodLookup = (*HTTPLookup)(nil)

// HTTPLookup asks a media service for a track matching mood tags:
// GET {base}/media?tags=a,b answers {"url": "..."} or 404.
type HTTPLookup struct {
	log     *slog.Logger
	client  *http.Client
	baseURL string
}

func NewHTTPLookup(log *slog.Logger, client *http.Client, baseURL string) *HTTPLookup {
	return &HTTPLookup{log: log, client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type mediaResponse struct {
	URL string `json:"url"`
}

func (l *HTTPLookup) FindMedia(ctx context.Context, tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	query := url.Values{"tags": {strings.Join(tags, ",")}}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/media?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	response, err := l.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("mood lookup returned status %d", response.StatusCode)
	}

	var decoded mediaResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode mood lookup response: %w", err)
	}
	l.log.Debug("Media found", "tags", tags, "url", decoded.URL)
	return decoded.URL, nil
}
