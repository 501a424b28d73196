// Package generate wraps the AI provider used for letter text, card images,
// voice transcription and image analysis.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	imageModel     = "dall-e-3"
	audioModel     = "whisper-1"
)

// LetterPrompt describes the letter the user wants written.
type LetterPrompt struct {
	Context   string `json:"context"`
	Tone      string `json:"tone"`
	Occasion  string `json:"occasion"`
	Recipient string `json:"recipient"`
}

// Generator is the AI collaborator. Each call produces at most one artifact.
type Generator interface {
	GenerateLetter(ctx context.Context, p LetterPrompt) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	AnalyzeImage(ctx context.Context, imageURL string) (string, error)
}

type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
	}
}

const letterInstructions = "You write warm, personal, handwritten-style letters. " +
	"Return only the letter body, without a subject line or signature placeholder."

func (c *OpenAIClient) GenerateLetter(ctx context.Context, p LetterPrompt) (string, error) {
	if strings.TrimSpace(p.Context) == "" {
		return "", errors.New("letter context is required")
	}
	input := fmt.Sprintf("Occasion: %s\nTone: %s\nRecipient: %s\nContext: %s", p.Occasion, p.Tone, p.Recipient, p.Context)
	return c.respond(ctx, map[string]any{
		"model":        c.model,
		"instructions": letterInstructions,
		"input":        input,
	})
}

func (c *OpenAIClient) AnalyzeImage(ctx context.Context, imageURL string) (string, error) {
	if imageURL == "" {
		return "", errors.New("image url is required")
	}
	return c.respond(ctx, map[string]any{
		"model": c.model,
		"input": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": "Describe this image in two sentences so it can inspire a personal letter."},
				{"type": "input_image", "image_url": imageURL},
			},
		}},
	})
}

// respond calls the Responses API and joins the assistant's output text.
func (c *OpenAIClient) respond(ctx context.Context, reqBody map[string]any) (string, error) {
	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := c.postJSON(ctx, "/responses", reqBody, &parsed); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" && strings.TrimSpace(part.Text) != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(part.Text)
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty response from model (no output_text items found)")
	}
	return out, nil
}

func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("image prompt is required")
	}
	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	err := c.postJSON(ctx, "/images/generations", map[string]any{
		"model":  imageModel,
		"prompt": prompt,
		"n":      1,
		"size":   "1024x1024",
	}, &parsed)
	if err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return "", errors.New("image response contained no url")
	}
	return parsed.Data[0].URL, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("audio is empty")
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("model", audioModel); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, "/audio/transcriptions", w.FormDataContentType(), &buf, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return "", errors.New("empty transcription")
	}
	return parsed.Text, nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(b), out)
}

func (c *OpenAIClient) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("openai error %d: %s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Generator = (*OpenAIClient)(nil)
