package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

const visionPrompt = "Transcribe all text visible on this scanned page exactly as written. " +
	"Keep the reading order and paragraph breaks. Respond with the text only, no commentary."

// Vision performs OCR by asking a vision-capable chat model to transcribe the page image.
type Vision struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewVision(apiKey, baseURL, model string) *Vision {
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn/api/paas/v4/"
	}
	// Ensure baseURL ends with /
	if baseURL[len(baseURL)-1] != '/' {
		baseURL = baseURL + "/"
	}
	if model == "" {
		model = "glm-4.5v"
	}

	return &Vision{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
		maxRetries: 2,
		backoff:    2 * time.Second,
	}
}

// messageContent is a part of a message (text or image)
type messageContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type visionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Recognize sends the page image as a base64 data URI. lang is passed to the model as a hint.
func (v *Vision) Recognize(ctx context.Context, imagePath string, lang string) (string, error) {
	if v.apiKey == "" {
		return "", fmt.Errorf("vision OCR not configured")
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData)

	prompt := visionPrompt
	if lang != "" {
		prompt += " Expected language code: " + lang + "."
	}

	request := visionRequest{
		Model: v.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []messageContent{
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
					{Type: "text", Text: prompt},
				},
			},
		},
		Stream:      false,
		Temperature: 0.1,
		MaxTokens:   4096,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("ocr: retrying vision call (attempt %d/%d)", attempt+1, v.maxRetries+1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * v.backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("create http request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := v.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("execute vision request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response body: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("vision api error: status=%d, body=%s", resp.StatusCode, string(body))
			// Don't retry 4xx errors (client errors)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return "", lastErr
			}
			continue
		}

		var parsed visionResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			lastErr = fmt.Errorf("unmarshal vision response: %w", err)
			continue
		}
		if len(parsed.Choices) == 0 {
			lastErr = fmt.Errorf("vision api returned no choices")
			continue
		}
		return parsed.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("vision api failed after %d attempts: %w", v.maxRetries+1, lastErr)
}
