/**
 * @description
 * This package provides a client for the content-addressed evidence store
 * that claim photos are pinned to. Files are sent as one multipart request;
 * the store responds with a public URL and content hash per file. The first
 * file's hash doubles as the claim's primary evidence hash, which is the
 * value anchored on the ledger.
 *
 * @dependencies
 * - bytes, context, encoding/json, mime/multipart, net/http: Standard Go libraries.
 */
package evidenceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Client is a client for the evidence store API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new evidence store client. Uploads can be large, so the
// timeout is looser than the other upstream clients.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// File is one evidence file to pin.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadResult is the outcome of pinning a batch of evidence files.
type UploadResult struct {
	URLs        []string
	PrimaryHash string
}

type uploadResponse struct {
	Data []struct {
		URL  string `json:"url"`
		Hash string `json:"hash"`
	} `json:"data"`
}

// UploadFiles pins the given files and returns their public URLs plus the
// primary evidence hash. An empty batch is a no-op: claims may be submitted
// without evidence, in which case the primary hash stays empty.
func (c *Client) UploadFiles(ctx context.Context, files []File) (*UploadResult, error) {
	if len(files) == 0 {
		return &UploadResult{}, nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart section: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file %q: %w", f.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/files", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-evidence-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("evidence store returned status %d", resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(parsed.Data) != len(files) {
		return nil, fmt.Errorf("evidence store returned %d entries for %d files", len(parsed.Data), len(files))
	}

	result := &UploadResult{PrimaryHash: parsed.Data[0].Hash}
	for _, entry := range parsed.Data {
		result.URLs = append(result.URLs, entry.URL)
	}
	return result, nil
}
