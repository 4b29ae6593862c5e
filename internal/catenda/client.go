// Package catenda talks to the Catenda case system: BCF topics are the
// cases, and the document library holds the rendered summaries.
package catenda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/breaker"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from Catenda.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catenda %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ClientError reports a 4xx answer other than 429: an unknown topic or a
// rejected body says nothing about Catenda's health.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Client is a Catenda REST client scoped to one project and library.
type Client struct {
	httpClient *http.Client
	baseURL    string
	projectID  string
	libraryID  string
	breaker    *breaker.Breaker
	logger     *zap.Logger
}

// New builds a client. When client credentials are configured every
// request carries an OAuth2 bearer token fetched from cfg.TokenURL.
func New(ctx context.Context, cfg config.CatendaConfig, br *breaker.Breaker, logger *zap.Logger) *Client {
	httpClient := &http.Client{}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = cc.Client(ctx)
	}
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		projectID:  cfg.ProjectID,
		libraryID:  cfg.LibraryID,
		breaker:    br,
		logger:     logger.Named("catenda"),
	}
}

func (c *Client) topicURL(caseID string, parts ...string) string {
	u := fmt.Sprintf("%s/opencde/bcf/3.0/projects/%s/topics/%s",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(caseID))
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// do sends req through the breaker and decodes a JSON answer into out
// when out is non-nil.
func (c *Client) do(req *http.Request, op string, out any) error {
	return c.breaker.Do(func() error {
		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("catenda %s: %w", op, err)
		}
		defer resp.Body.Close()

		c.logger.Debug("catenda request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("catenda %s: decode response: %w", op, err)
		}
		return nil
	})
}

func (c *Client) jsonRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type libraryItem struct {
	ID string `json:"id"`
}

// UploadDocument stores doc in the project library and links it to the
// case. It returns the library document id.
func (c *Client) UploadDocument(ctx context.Context, caseID string, doc *models.Document) (string, error) {
	params, err := json.Marshal(map[string]any{
		"name": doc.FileName,
		"document": map[string]any{
			"type":     "file",
			"filename": doc.FileName,
		},
	})
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/v2/projects/%s/libraries/%s/items",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(c.libraryID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(doc.Data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Bimsync-Params", string(params))

	var item libraryItem
	if err := c.do(req, "upload document", &item); err != nil {
		return "", err
	}
	if item.ID == "" {
		return "", fmt.Errorf("catenda upload document: response carries no id")
	}

	ref, err := c.jsonRequest(ctx, http.MethodPost, c.topicURL(caseID, "document_references"), map[string]any{
		"document_guid": item.ID,
		"description":   doc.FileName,
	})
	if err != nil {
		return "", err
	}
	if err := c.do(ref, "link document", nil); err != nil {
		return "", err
	}
	return item.ID, nil
}

// PostComment adds a comment to the case, listing any attached documents.
func (c *Client) PostComment(ctx context.Context, caseID, text string, documentIDs []string) error {
	if len(documentIDs) > 0 {
		text += "\n\nVedlegg: " + strings.Join(documentIDs, ", ")
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, c.topicURL(caseID, "comments"), map[string]any{
		"comment": text,
	})
	if err != nil {
		return err
	}
	return c.do(req, "post comment", nil)
}

// SetStatus changes the topic status of the case, keeping its other fields.
func (c *Client) SetStatus(ctx context.Context, caseID string, status models.CaseStatus) error {
	get, err := c.jsonRequest(ctx, http.MethodGet, c.topicURL(caseID), nil)
	if err != nil {
		return err
	}
	var topic map[string]any
	if err := c.do(get, "get topic", &topic); err != nil {
		return err
	}
	if topic == nil {
		topic = map[string]any{}
	}
	topic["topic_status"] = string(status)

	put, err := c.jsonRequest(ctx, http.MethodPut, c.topicURL(caseID), topic)
	if err != nil {
		return err
	}
	return c.do(put, "set status", nil)
}
