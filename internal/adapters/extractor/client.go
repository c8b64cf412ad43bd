package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Client вызывает внешний сервис извлечения признаков картинок.
// Сервис непрозрачен: адрес картинки на входе, эмбеддинг и имя
// модели на выходе.
type Client struct {
	http    *http.Client
	baseURL string
}

var _ domain.ImageFeatureExtractor = (*Client)(nil)

// NewClient создаёт клиента сервиса эмбеддингов.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type extractResponse struct {
	ImageURL      string    `json:"image_url"`
	ImageFeatures []float32 `json:"image_features"`
	ModelName     string    `json:"model_name"`
}

type modelNameResponse struct {
	ModelName string `json:"model_name"`
}

// ExtractImageFeatures запрашивает эмбеддинг для картинки.
// Ответ 404 означает, что исходная картинка недоступна сервису —
// это распознанная ветка, а не сбой.
func (c *Client) ExtractImageFeatures(ctx context.Context, imageURL string) (domain.ImageFeatures, error) {
	endpoint := fmt.Sprintf("%s/images/features?image_url=%s&embedding=true&caption=false&ocr=false",
		c.baseURL, url.QueryEscape(imageURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ImageFeatures{}, fmt.Errorf("extractor: build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("extractor", "extract_features", "images", start, err)
	if err != nil {
		return domain.ImageFeatures{}, fmt.Errorf("extractor: do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ImageFeatures{}, domain.ErrContentUnavailable
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ImageFeatures{}, domain.NonRetryable(
			fmt.Errorf("extractor: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	case resp.StatusCode >= 500:
		return domain.ImageFeatures{}, fmt.Errorf("extractor: status %d", resp.StatusCode)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ImageFeatures{}, fmt.Errorf("extractor: decode response: %w", err)
	}
	if len(parsed.ImageFeatures) == 0 {
		return domain.ImageFeatures{}, domain.NonRetryable(fmt.Errorf("extractor: empty embedding for %s", imageURL))
	}
	return domain.ImageFeatures{
		ModelName:     parsed.ModelName,
		FeatureVector: parsed.ImageFeatures,
	}, nil
}

// ModelName возвращает каноничное имя текущей модели эмбеддингов.
func (c *Client) ModelName(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model", nil)
	if err != nil {
		return "", fmt.Errorf("extractor: build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("extractor", "model_name", "model", start, err)
	if err != nil {
		return "", fmt.Errorf("extractor: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extractor: status %d", resp.StatusCode)
	}
	var parsed modelNameResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("extractor: decode response: %w", err)
	}
	if parsed.ModelName == "" {
		return "", fmt.Errorf("extractor: empty model name")
	}
	return parsed.ModelName, nil
}
