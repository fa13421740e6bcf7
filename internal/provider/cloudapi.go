package provider

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

const maxResponseBytes = 1 << 20

// CloudAPISender talks to a WhatsApp Cloud style messages endpoint:
// POST {BaseURL}/{PhoneNumberID}/messages with a bearer token.
type CloudAPISender struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	Client        *http.Client
}

func NewCloudAPISender(baseURL, phoneNumberID, token string) *CloudAPISender {
	return &CloudAPISender{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		PhoneNumberID: phoneNumberID,
		Token:         token,
		Client:        &http.Client{Timeout: 30 * time.Second},
	}
}

type textMessageRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type cloudAPIResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider rejected message (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider rejected message (http %d): %s", e.StatusCode, e.Message)
}

func (s *CloudAPISender) Send(ctx context.Context, to, body string) (string, any, error) {
	payload := textMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
	}
	payload.Text.Body = body

	b, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.BaseURL, s.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", nil, fmt.Errorf("read response: %w", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	var parsed cloudAPIResponse
	if err := json.Unmarshal(data, &parsed); err != nil && resp.StatusCode < 300 {
		return "", raw, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if parsed.Error != nil {
			apiErr.Code = parsed.Error.Code
			if parsed.Error.Message != "" {
				apiErr.Message = parsed.Error.Message
			}
		}
		return "", raw, apiErr
	}

	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", raw, errors.New("provider response carried no message id")
	}
	return parsed.Messages[0].ID, raw, nil
}

var _ Sender = (*CloudAPISender)(nil)
