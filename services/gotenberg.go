package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"convertd/convert"
)

// GotenbergService turns office documents into PDFs through a Gotenberg
// instance. It is the conversion collaborator for the document category.
type GotenbergService struct {
	baseURL string
	client  *http.Client
}

func NewGotenbergService(baseURL string) *GotenbergService {
	return &GotenbergService{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 0, // Use context timeout instead
		},
	}
}

// Func adapts the service to the conversion-routine contract.
func (g *GotenbergService) Func() convert.Func {
	return func(ctx context.Context, input []byte, inputFormat, outputFormat string, _ *int) ([]byte, error) {
		return g.Convert(ctx, input, inputFormat, outputFormat)
	}
}

// Convert posts the document to Gotenberg's LibreOffice route and returns
// the produced PDF bytes. Only pdf output is supported.
func (g *GotenbergService) Convert(ctx context.Context, input []byte, inputFormat, outputFormat string) ([]byte, error) {
	if outputFormat != "pdf" {
		return nil, fmt.Errorf("%w: document->%s (gotenberg produces pdf only)", convert.ErrUnsupported, outputFormat)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("files", "input."+inputFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(input); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	url := fmt.Sprintf("%s/forms/libreoffice/convert", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gotenberg request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gotenberg returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	output, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted document: %w", err)
	}
	return output, nil
}
