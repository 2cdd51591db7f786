package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/infrastructure/resilience"
)

// Client talks to an Ollama-compatible inference service. One client is
// shared by the vision and raw-text extractors; it is safe for concurrent
// use across documents.
type Client struct {
	baseURL     string
	genModel    string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, genModel, visionModel string) *Client {
	return NewWithExecutor(baseURL, genModel, visionModel, nil)
}

func NewWithExecutor(baseURL, genModel, visionModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		executor:    executor,
	}
}

// VisionExtractor implements ports.VisionModel: one rendered page in,
// line items out.
type VisionExtractor struct {
	client *Client
}

func NewVisionExtractor(client *Client) *VisionExtractor {
	return &VisionExtractor{client: client}
}

func (v *VisionExtractor) ExtractItemsFromPage(ctx context.Context, page []byte, mimeType string) ([]domain.LineItem, error) {
	reqBody := map[string]any{
		"model":  v.client.visionModel,
		"prompt": visionItemPrompt(mimeType),
		"images": []string{base64.StdEncoding.EncodeToString(page)},
		"stream": false,
		"format": "json",
	}
	raw, err := v.client.generate(ctx, "vision_extract", reqBody)
	if err != nil {
		return nil, err
	}
	return parseLineItems(raw)
}

// TextExtractor implements ports.TextModel over the language-only model.
type TextExtractor struct {
	client *Client
}

func NewTextExtractor(client *Client) *TextExtractor {
	return &TextExtractor{client: client}
}

func (t *TextExtractor) ExtractItemsFromText(ctx context.Context, text string) ([]domain.LineItem, error) {
	reqBody := map[string]any{
		"model":  t.client.genModel,
		"prompt": buildLineItemPrompt(text),
		"stream": false,
		"format": "json",
	}
	raw, err := t.client.generate(ctx, "text_extract", reqBody)
	if err != nil {
		return nil, err
	}
	return parseLineItems(raw)
}

func (c *Client) generate(ctx context.Context, operation string, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return strings.TrimSpace(response.Response), nil
}
