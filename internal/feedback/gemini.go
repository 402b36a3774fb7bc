package feedback

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-1.5-flash-latest"
	DefaultAPIKeyEnv   = "GOOGLE_API_KEY"
)

// GeminiGenerator calls Gemini generateContent through the genai SDK.
// BaseURL and Client are for tests and proxies; both may be empty.
type GeminiGenerator struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client

	mu  sync.Mutex
	sdk *genai.Client
}

// NewGeminiFromEnv reads the API key from env (GOOGLE_API_KEY when empty).
// A missing key is not an error here; Generate reports ErrUnavailable.
func NewGeminiFromEnv(env, model string) *GeminiGenerator {
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return &GeminiGenerator{APIKey: os.Getenv(env), Model: model}
}

func (g *GeminiGenerator) client(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sdk != nil {
		return g.sdk, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     g.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.Client,
	}
	if g.BaseURL != "" {
		cc.HTTPOptions.BaseURL = g.BaseURL
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	g.sdk = c
	return c, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("%w: no API key", ErrUnavailable)
	}
	c, err := g.client(ctx)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	model := g.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	resp, err := c.Models.GenerateContent(ctx, model, genai.Text(p.Text), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked prompt: %s", pf.BlockReason)
		}
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}
