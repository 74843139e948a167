package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const visionInstruction = "Analyze this medical image. Identify findings, abnormalities, and suggest next steps. Provide a summary for medical records."

// GeminiClient answers symptom and image questions directly through the
// Gemini API. It keeps a per-user note of earlier image findings and
// consultations so later questions can use them.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    zerolog.Logger

	mu      sync.Mutex
	context map[string]string
}

func NewGeminiClient(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		model:   model,
		log:     log.With().Str("component", "gemini").Logger(),
		context: make(map[string]string),
	}, nil
}

func (g *GeminiClient) AnalyzeSymptoms(ctx context.Context, userName, text string) (string, error) {
	prompt := symptomPrompt(g.patientContext(userName), text)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	reply, err := responseText(resp)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "diagnosis") || strings.Contains(lower, "medicine") {
		g.remember(userName, fmt.Sprintf("\n- Consultation Note: %s\n", text))
	}
	return reply, nil
}

func (g *GeminiClient) AnalyzeImage(ctx context.Context, userName string, img Image) (string, error) {
	mime := img.ContentType
	if mime == "" {
		mime = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(visionInstruction),
			genai.NewPartFromBytes(img.Data, mime),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	analysis, err := responseText(resp)
	if err != nil {
		return "", err
	}
	g.remember(userName, fmt.Sprintf("\n[IMAGE ANALYSIS - %s]: %s\n", img.Name, analysis))
	return analysis, nil
}

func (g *GeminiClient) patientContext(userName string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.context[userName]
}

func (g *GeminiClient) remember(userName, note string) {
	g.mu.Lock()
	g.context[userName] += note
	g.mu.Unlock()
	g.log.Debug().Str("user", userName).Int("chars", len(note)).Msg("patient context updated")
}

func symptomPrompt(past, question string) string {
	if past == "" {
		past = "No previous records available."
	}
	var b strings.Builder
	b.WriteString("You are Dr.Care, an advanced AI Medical Assistant.\n\n")
	b.WriteString("PATIENT MEDICAL CONTEXT:\n")
	b.WriteString(past)
	b.WriteString("\n\nCURRENT USER QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("1. Use Patient Context (X-Rays, history) if relevant.\n")
	b.WriteString("2. Format with **Bold Headings** and bullet points.\n")
	b.WriteString("3. Be concise and professional.\n")
	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no content in Gemini response")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty Gemini response")
	}
	return text, nil
}
