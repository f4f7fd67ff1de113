// Package tryon generates virtual try-on composites through the
// OpenRouter image-generation endpoint.
package tryon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const tryOnPromptTemplate = `Generate a photorealistic image of this person wearing the %s shown in the second image.

Instructions:
- Naturally fit the garment onto the person's body
- Put them in different poses with backgrounds that are different from the original photo
- Make sure the clothing looks natural and properly fitted
- The result should look like a real photograph, not a composite

Create a seamless, realistic result where it looks like the person is actually wearing this clothing item. If the user says what the garment is for, use that information to generate a theme based on it. For example, if they said they wanted a shirt for an office setting, generate a photo of them in an office setting.`

// Client calls the OpenRouter image-generation model. The call is made
// over raw HTTP: the chat SDK does not surface the images field the
// image models return.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a try-on client.
func NewClient(apiKey, baseURL, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type generateRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type generateResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a composite image of the person in selfie wearing
// the product. Inputs and output are base64 data URLs.
func (c *Client) Generate(ctx context.Context, selfie, productImage, productTitle string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("OpenRouter API key is required")
	}

	if productTitle == "" {
		productTitle = "garment"
	}

	body, err := json.Marshal(generateRequest{
		Model: c.model,
		Messages: []message{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: fmt.Sprintf(tryOnPromptTemplate, productTitle)},
					{Type: "image_url", ImageURL: &imageURL{URL: asDataURL(selfie)}},
					{Type: "image_url", ImageURL: &imageURL{URL: asDataURL(productImage)}},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal try-on request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build try-on request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("try-on request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorText, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("image generation error %d: %s", resp.StatusCode, strings.TrimSpace(string(errorText)))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode try-on response: %w", err)
	}

	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.Images) == 0 {
		return "", errors.New("model response did not contain a generated image")
	}

	composite := parsed.Choices[0].Message.Images[0].ImageURL.URL
	if composite == "" {
		return "", errors.New("model response did not contain a generated image")
	}
	return composite, nil
}

func asDataURL(image string) string {
	if strings.HasPrefix(image, "data:") {
		return image
	}
	return "data:image/jpeg;base64," + image
}
