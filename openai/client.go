package openai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	api   *openai.Client
	Model string
	Size  string
}

func NewClient() *Client {
	key := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("IMAGE_MODEL")
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := os.Getenv("IMAGE_SIZE")
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	return &Client{api: openai.NewClient(key), Model: model, Size: size}
}

// GenerateImage renders one product-card variant and returns its hosted URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.Model,
		N:              1,
		Size:           c.Size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no result")
	}
	return resp.Data[0].URL, nil
}
