/**
 * Remote backends - JSON over HTTP to a fixed service address.
 *
 * The remote OCR/translation service exposes internal endpoints with a
 * uniform {success, data, message} envelope. Requests carry an X-Request-ID
 * for correlation in the service's logs.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
	"github.com/mangaforge/workbench/internal/settings"
)

const remoteClientTimeout = 120 * time.Second

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type wireRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type wireBox struct {
	Text   string     `json:"text"`
	Region wireRegion `json:"region"`
	Order  int        `json:"order"`
}

// RemoteOCR calls the recognition endpoint of the remote service.
type RemoteOCR struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewRemoteOCR(cfg settings.RemoteConfig) *RemoteOCR {
	return &RemoteOCR{
		baseURL:    cfg.BaseURL(),
		httpClient: &http.Client{Timeout: remoteClientTimeout},
		logger:     logging.NewLogger("RemoteOCR"),
	}
}

func (c *RemoteOCR) Recognize(ctx context.Context, image []byte) ([]model.OCRBox, error) {
	reqBody := struct {
		RequestID string `json:"requestId"`
		Image     string `json:"image"`
	}{
		RequestID: uuid.NewString(),
		Image:     base64.StdEncoding.EncodeToString(image),
	}

	var data struct {
		Boxes []wireBox `json:"boxes"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/api/ocr/recognize", reqBody.RequestID, reqBody, &data); err != nil {
		return nil, err
	}

	boxes := make([]model.OCRBox, len(data.Boxes))
	for i, b := range data.Boxes {
		boxes[i] = model.OCRBox{
			Region:     model.Region(b.Region),
			SourceText: b.Text,
			Order:      b.Order,
		}
	}
	c.logger.Debug("recognition complete", "boxes", len(boxes))
	return boxes, nil
}

// RemoteTranslator calls the translation endpoints of the remote service.
type RemoteTranslator struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	targetLang string
}

func NewRemoteTranslator(cfg settings.RemoteConfig, targetLang string) *RemoteTranslator {
	return &RemoteTranslator{
		baseURL:    cfg.BaseURL(),
		httpClient: &http.Client{Timeout: remoteClientTimeout},
		logger:     logging.NewLogger("RemoteTranslator"),
		targetLang: targetLang,
	}
}

func (c *RemoteTranslator) Translate(ctx context.Context, text string, contextText string) (string, error) {
	reqBody := struct {
		RequestID  string `json:"requestId"`
		Text       string `json:"text"`
		Context    string `json:"context,omitempty"`
		TargetLang string `json:"targetLang"`
	}{
		RequestID:  uuid.NewString(),
		Text:       text,
		Context:    contextText,
		TargetLang: c.targetLang,
	}

	var data struct {
		Text string `json:"text"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/api/translate", reqBody.RequestID, reqBody, &data); err != nil {
		return "", err
	}
	return data.Text, nil
}

func (c *RemoteTranslator) TranslateBatch(ctx context.Context, texts []string, contextText string) ([]BatchItem, error) {
	type wireItem struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	items := make([]wireItem, len(texts))
	for i, t := range texts {
		items[i] = wireItem{Index: i, Text: t}
	}
	reqBody := struct {
		RequestID  string     `json:"requestId"`
		Items      []wireItem `json:"items"`
		Context    string     `json:"context,omitempty"`
		TargetLang string     `json:"targetLang"`
	}{
		RequestID:  uuid.NewString(),
		Items:      items,
		Context:    contextText,
		TargetLang: c.targetLang,
	}

	var data struct {
		Items []struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
			Error string `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/api/translate/batch", reqBody.RequestID, reqBody, &data); err != nil {
		return nil, err
	}

	// Re-correlate by the explicit index token; the service is not trusted to
	// preserve input order.
	out := make([]BatchItem, len(texts))
	for i := range out {
		out[i] = BatchItem{
			Index: i,
			Err:   errors.Transient("translate.batch", fmt.Sprintf("item %d missing from response", i), nil),
		}
	}
	for _, it := range data.Items {
		if it.Index < 0 || it.Index >= len(texts) {
			c.logger.Warn("batch response carries unknown index", "index", it.Index)
			continue
		}
		if it.Error != "" {
			out[it.Index] = BatchItem{
				Index: it.Index,
				Err:   errors.Transient("translate.batch", it.Error, nil),
			}
			continue
		}
		out[it.Index] = BatchItem{Index: it.Index, Text: it.Text}
	}
	return out, nil
}

// postJSON performs one envelope round-trip and maps transport and status
// failures onto the error taxonomy.
func postJSON(ctx context.Context, client *http.Client, endpoint, requestID string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "workbench")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return errors.Transient("backend.remote", "request to remote service failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Transient("backend.remote", "failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Auth("backend.remote",
			fmt.Sprintf("remote service rejected credentials (status %d)", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return errors.Transient("backend.remote",
			fmt.Sprintf("remote service returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Transient("backend.remote", "failed to parse response envelope", err)
	}
	if !env.Success {
		return errors.Transient("backend.remote", "remote operation failed: "+env.Message, nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Transient("backend.remote", "failed to parse response data", err)
	}
	return nil
}
