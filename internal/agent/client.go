package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Image is an uploaded picture sent for vision analysis.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client talks to the diagnosis/vision backend.
type Client interface {
	AnalyzeSymptoms(ctx context.Context, userName, text string) (string, error)
	AnalyzeImage(ctx context.Context, userName string, img Image) (string, error)
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

type httpClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient returns a Client for the backend served at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type symptomsRequest struct {
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

type symptomsResponse struct {
	Diagnosis string `json:"diagnosis"`
}

type visionResponse struct {
	Analysis string `json:"analysis"`
}

func (c *httpClient) AnalyzeSymptoms(ctx context.Context, userName, text string) (string, error) {
	jsonBody, err := json.Marshal(symptomsRequest{UserName: userName, Text: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/symptoms/analyze", bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out symptomsResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("analyze symptoms: %w", err)
	}
	return out.Diagnosis, nil
}

func (c *httpClient) AnalyzeImage(ctx context.Context, userName string, img Image) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName(img.Name)))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", err
	}
	if err := writer.WriteField("user_name", userName); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vision/analyze", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out visionResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}
	return out.Analysis, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fileName(name string) string {
	if name == "" {
		return "upload"
	}
	return name
}
