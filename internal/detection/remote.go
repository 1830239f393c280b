package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type RemoteOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Version    int
	Confidence float64
	Overlap    float64
	HTTPClient *http.Client
}

// RemoteEngine calls a hosted object-detection inference API. The image is
// posted base64 encoded and thresholds travel as whole percentages.
type RemoteEngine struct {
	endpoint   string
	apiKey     string
	confidence int
	overlap    int
	httpClient *http.Client
}

func NewRemoteEngine(opt RemoteOptions) *RemoteEngine {
	client := opt.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	endpoint := strings.TrimRight(opt.BaseURL, "/") + "/" + url.PathEscape(opt.Model)
	if opt.Version > 0 {
		endpoint += "/" + strconv.Itoa(opt.Version)
	}
	return &RemoteEngine{
		endpoint:   endpoint,
		apiKey:     opt.APIKey,
		confidence: int(math.Round(opt.Confidence * 100)),
		overlap:    int(math.Round(opt.Overlap * 100)),
		httpClient: client,
	}
}

func (e *RemoteEngine) Name() string { return "remote" }

func (e *RemoteEngine) Detect(ctx context.Context, imagePath string) (*Result, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image failed: %w", err)
	}

	query := url.Values{}
	query.Set("api_key", e.apiKey)
	query.Set("confidence", strconv.Itoa(e.confidence))
	query.Set("overlap", strconv.Itoa(e.overlap))
	query.Set("format", "json")

	body := strings.NewReader(base64.StdEncoding.EncodeToString(raw))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"?"+query.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("build inference request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inference response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference response status %d: %s", resp.StatusCode, truncate(string(payload), 512))
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("parse inference json failed: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
