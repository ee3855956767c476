/**
 * Direct backends - third-party provider called with an API key.
 *
 * Both capabilities use a Gemini vision/text model through the genai SDK.
 * Credentials are validated at construction so a bad key fails the provider
 * refresh instead of the first pipeline item.
 */

package backend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mangaforge/workbench/internal/errors"
	"github.com/mangaforge/workbench/internal/logging"
	"github.com/mangaforge/workbench/internal/model"
	"github.com/mangaforge/workbench/internal/settings"
)

const (
	defaultOCRModel       = "gemini-2.0-flash"
	defaultTranslateModel = "gemini-2.0-flash"
)

const ocrSystemPrompt = `You segment manga pages into text blocks. Return a JSON array; each
element is {"text": string, "region": {"x": int, "y": int, "width": int, "height": int},
"order": int} with order following right-to-left, top-to-bottom reading order starting at 0.
Transcribe text exactly as printed. Output JSON only.`

// DirectOCR recognizes text blocks through the Gemini vision API.
type DirectOCR struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

func NewDirectOCR(ctx context.Context, cfg settings.OCRDirectConfig) (*DirectOCR, error) {
	if strings.TrimSpace(cfg.Credentials) == "" {
		return nil, errors.Auth("ocr.direct", "credentials are empty", nil)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.Credentials)))
	if err != nil {
		return nil, errors.Auth("ocr.direct", "failed to construct provider client", err)
	}
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = defaultOCRModel
	}
	return &DirectOCR{
		client:  client,
		model:   modelName,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  logging.NewLogger("DirectOCR"),
	}, nil
}

func (d *DirectOCR) Recognize(ctx context.Context, image []byte) ([]model.OCRBox, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m := d.client.GenerativeModel(d.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ocrSystemPrompt)},
	}

	resp, err := m.GenerateContent(ctx,
		genai.Text("Segment this page and return the JSON array."),
		&genai.Blob{MIMEType: sniffImageMIME(image), Data: image},
	)
	if err != nil {
		return nil, mapProviderError("ocr.direct", err)
	}

	txt := stripCodeFences(firstText(resp))
	if txt == "" {
		return nil, errors.Transient("ocr.direct", "provider returned an empty response", nil)
	}

	var wire []wireBox
	if err := json.Unmarshal([]byte(txt), &wire); err != nil {
		return nil, errors.Transient("ocr.direct", "provider returned malformed JSON", err)
	}

	boxes := make([]model.OCRBox, len(wire))
	for i, b := range wire {
		boxes[i] = model.OCRBox{
			Region:     model.Region(b.Region),
			SourceText: b.Text,
			Order:      b.Order,
		}
	}
	d.logger.Debug("recognition complete", "model", d.model, "boxes", len(boxes))
	return boxes, nil
}

// DirectTranslator translates through the Gemini text API.
type DirectTranslator struct {
	client     *genai.Client
	model      string
	timeout    time.Duration
	targetLang string
	logger     *logging.Logger
}

func NewDirectTranslator(ctx context.Context, cfg settings.TranslationDirectConfig, targetLang string) (*DirectTranslator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.Auth("translate.direct", "apiKey is empty", nil)
	}
	opts := []option.ClientOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if cfg.APIBaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.APIBaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Auth("translate.direct", "failed to construct provider client", err)
	}
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = defaultTranslateModel
	}
	return &DirectTranslator{
		client:     client,
		model:      modelName,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		targetLang: targetLang,
		logger:     logging.NewLogger("DirectTranslator"),
	}, nil
}

func (d *DirectTranslator) systemPrompt() string {
	return fmt.Sprintf(`You translate manga dialogue into %s. Keep honorifics and
sound-effect flavor where natural. Return JSON only, in the exact shape requested.`, d.targetLang)
}

func (d *DirectTranslator) Translate(ctx context.Context, text string, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m := d.client.GenerativeModel(d.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(d.systemPrompt())}}

	reqObj := map[string]any{"text": text}
	if contextText != "" {
		reqObj["context"] = contextText
	}
	reqJSON, _ := json.Marshal(reqObj)

	resp, err := m.GenerateContent(ctx, genai.Text(
		`Translate "text" and answer {"text": "<translation>"}.`+"\nINPUT_JSON:\n"+string(reqJSON)))
	if err != nil {
		return "", mapProviderError("translate.direct", err)
	}

	var out struct {
		Text string `json:"text"`
	}
	raw := stripCodeFences(firstText(resp))
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", errors.Transient("translate.direct", "provider returned malformed JSON", err)
	}
	return out.Text, nil
}

func (d *DirectTranslator) TranslateBatch(ctx context.Context, texts []string, contextText string) ([]BatchItem, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	m := d.client.GenerativeModel(d.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(d.systemPrompt())}}

	type wireItem struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	items := make([]wireItem, len(texts))
	for i, t := range texts {
		items[i] = wireItem{Index: i, Text: t}
	}
	reqObj := map[string]any{"items": items}
	if contextText != "" {
		reqObj["context"] = contextText
	}
	reqJSON, _ := json.Marshal(reqObj)

	resp, err := m.GenerateContent(ctx, genai.Text(
		`Translate every item and answer {"items": [{"index": int, "text": "<translation>"}]},
keeping each item's index.`+"\nINPUT_JSON:\n"+string(reqJSON)))
	if err != nil {
		return nil, mapProviderError("translate.direct", err)
	}

	out := make([]BatchItem, len(texts))
	for i := range out {
		out[i] = BatchItem{
			Index: i,
			Err:   errors.Transient("translate.direct", fmt.Sprintf("item %d missing from response", i), nil),
		}
	}

	var parsed struct {
		Items []wireItem `json:"items"`
	}
	raw := stripCodeFences(firstText(resp))
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Partial contract: report the failure per item, never as a batch abort.
		perItem := errors.Transient("translate.direct", "provider returned malformed JSON", err)
		for i := range out {
			out[i].Err = perItem
		}
		return out, nil
	}
	for _, it := range parsed.Items {
		if it.Index < 0 || it.Index >= len(texts) {
			d.logger.Warn("batch response carries unknown index", "index", it.Index)
			continue
		}
		out[it.Index] = BatchItem{Index: it.Index, Text: it.Text}
	}
	return out, nil
}

// --------------------------- helpers ---------------------------

func mapProviderError(op string, err error) error {
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) && (gerr.Code == 401 || gerr.Code == 403) {
		return errors.Auth(op, "provider rejected credentials", err)
	}
	return errors.Transient(op, "provider call failed", err)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// sniffImageMIME detects the image type from magic bytes; the provider needs
// a concrete MIME and staged images arrive as opaque bytes.
func sniffImageMIME(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:4]) == "\x89PNG":
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/png"
	}
}

func ptrFloat32(v float32) *float32 { return &v }
