// Package ocr talks to the Tesseract sidecar over HTTP.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/infrastructure/resilience"
)

const defaultLanguage = "eng"

type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	exec       *resilience.Executor
}

func NewClient(baseURL, language string, exec *resilience.Executor) *Client {
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		exec:       exec,
	}
}

// Recognize submits the file for recognition and returns whatever text
// came back together with the sidecar's confidence estimate. Low
// confidence is reported, never rejected.
func (c *Client) Recognize(ctx context.Context, path string, language string) (string, float64, error) {
	if strings.TrimSpace(language) == "" {
		language = c.language
	}

	var text string
	var confidence float64
	call := func(ctx context.Context) error {
		var err error
		text, confidence, err = c.recognizeOnce(ctx, path, language)
		return err
	}
	if c.exec != nil {
		if err := c.exec.Do(ctx, "ocr", call); err != nil {
			return "", 0, err
		}
		return text, confidence, nil
	}
	if err := call(ctx); err != nil {
		return "", 0, err
	}
	return text, confidence, nil
}

func (c *Client) recognizeOnce(ctx context.Context, path, language string) (string, float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("open source file: %w", err))
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("copy file: %w", err))
	}
	if err := writer.WriteField("language", language); err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("write language field: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("finish multipart body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", &body)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrTemporary, "ocr.recognize", fmt.Errorf("ocr request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("ocr status %s", resp.Status)
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			err = fmt.Errorf("ocr status %s: %s", resp.Status, msg)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", 0, domain.WrapError(domain.ErrTemporary, "ocr.recognize", err)
		}
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", err)
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, domain.WrapError(domain.ErrOCR, "ocr.recognize", fmt.Errorf("decode response: %w", err))
	}
	return out.Text, out.Confidence, nil
}
