package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tutor-chat/internal/models"
)

// API is the REST collaborator the client persists through.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string) (*models.ReadReceipt, error)
	Upload(ctx context.Context, kind models.MessageType, fileName string, body io.Reader) (*models.FileMeta, error)
}

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s failed: %d (%s)", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %d", e.Method, e.Path, e.StatusCode)
}

type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *APIClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &convs)
	return convs, err
}

func (c *APIClient) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *APIClient) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/messages/"+url.PathEscape(conversationID), nil, &msgs)
	return msgs, err
}

func (c *APIClient) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	var msg models.Message
	if err := c.doJSON(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *APIClient) MarkRead(ctx context.Context, conversationID string) (*models.ReadReceipt, error) {
	var receipt models.ReadReceipt
	if err := c.doJSON(ctx, http.MethodPut, "/messages/read/"+url.PathEscape(conversationID), nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *APIClient) Upload(ctx context.Context, kind models.MessageType, fileName string, body io.Reader) (*models.FileMeta, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	path := "/upload/" + url.PathEscape(string(kind))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var meta models.FileMeta
	if err := c.do(req, path, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

func (c *APIClient) do(req *http.Request, path string, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
