// Package collections is a client for IONOS-style document collections: a
// hosted service that chunks, embeds and indexes documents server side.
package collections

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bull/narrative-knowledge/internal/storage"
)

const (
	DefaultBaseURL        = "https://inference.de-txl.ionos.com"
	DefaultTimeout        = 30 * time.Second
	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"

	listPageSize = 100
)

// ChunkingConfig is the server-side chunking applied to a collection.
type ChunkingConfig struct {
	Size    int
	Overlap int
}

// chunkingByCollection sizes chunks to the typical length of each category.
var chunkingByCollection = map[string]ChunkingConfig{
	storage.CollectionStories:       {Size: 1000, Overlap: 100},
	storage.CollectionCharacters:    {Size: 500, Overlap: 50},
	storage.CollectionWorldElements: {Size: 600, Overlap: 60},
	storage.CollectionScripts:       {Size: 800, Overlap: 80},
}

// ChunkingFor returns the chunking config for a collection, defaulting to the stories config.
func ChunkingFor(collection string) ChunkingConfig {
	if cfg, ok := chunkingByCollection[collection]; ok {
		return cfg
	}
	return chunkingByCollection[storage.CollectionStories]
}

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables pacing.
	RateLimit float64

	MaxRetries           uint64
	RetryInitialInterval time.Duration
	BreakerFailures      uint32
	BreakerTimeout       time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// CollectionInfo describes one remote collection.
type CollectionInfo struct {
	ID             string
	Name           string
	Description    string
	DocumentsCount int
}

// DocumentInfo describes one document stored in a collection.
type DocumentInfo struct {
	ID       string
	Title    string
	Metadata map[string]any
}

// ContentID returns the content id carried in the document's metadata, if any.
func (d DocumentInfo) ContentID() string {
	id, _ := d.Metadata["content_id"].(string)
	return id
}

// Client talks to the collections REST API. Collection ids are cached by
// name for the life of the client.
type Client struct {
	cfg    Config
	http   *http.Client
	exec   *executor
	logger *slog.Logger

	mu      sync.RWMutex
	ids     map[string]string
	resolve singleflight.Group
}

// NewClient creates a client. It never touches the network.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   cfg.HTTPClient,
		exec:   newExecutor(cfg, cfg.Logger),
		logger: cfg.Logger,
		ids:    make(map[string]string),
	}
}

// Available reports whether a token is configured. It does not contact the service.
func (c *Client) Available() bool {
	return c.cfg.Token != ""
}

type collectionItem struct {
	ID         string `json:"id"`
	Properties struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		DocumentsCount int    `json:"documentsCount"`
	} `json:"properties"`
}

type collectionList struct {
	Items []collectionItem `json:"items"`
}

type documentItem struct {
	ID         string `json:"id"`
	Properties struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"properties"`
}

type documentList struct {
	Items []documentItem `json:"items"`
}

type queryResponse struct {
	Properties struct {
		Matches []struct {
			Score    float64      `json:"score"`
			Document documentItem `json:"document"`
		} `json:"matches"`
	} `json:"properties"`
}

// do performs one logical request with retries. out may be nil.
func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any, accept ...int) error {
	if !c.Available() {
		return fmt.Errorf("%w: no collections API token", storage.ErrNotConfigured)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
	}

	return c.exec.execute(ctx, operation, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%s: build request: %w", operation, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read response: %w", operation, err)
		}
		if !accepted(resp.StatusCode, accept) {
			return &StatusError{Operation: operation, Code: resp.StatusCode, Body: truncate(string(raw), 200)}
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", operation, err)
			}
		}
		return nil
	})
}

func accepted(code int, accept []int) bool {
	if len(accept) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// ListCollections lists every collection and refreshes the id cache.
func (c *Client) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var list collectionList
	if err := c.do(ctx, "list collections", http.MethodGet, "/collections", nil, &list, http.StatusOK); err != nil {
		return nil, err
	}

	infos := make([]CollectionInfo, 0, len(list.Items))
	c.mu.Lock()
	for _, item := range list.Items {
		if item.Properties.Name != "" {
			c.ids[item.Properties.Name] = item.ID
		}
		infos = append(infos, CollectionInfo{
			ID:             item.ID,
			Name:           item.Properties.Name,
			Description:    item.Properties.Description,
			DocumentsCount: item.Properties.DocumentsCount,
		})
	}
	c.mu.Unlock()
	return infos, nil
}

func (c *Client) cachedID(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

func (c *Client) forget(name string) {
	c.mu.Lock()
	delete(c.ids, name)
	c.mu.Unlock()
}

// lookupCollection resolves name through the cache, then the list endpoint.
func (c *Client) lookupCollection(ctx context.Context, name string) (string, bool, error) {
	if id, ok := c.cachedID(name); ok {
		return id, true, nil
	}
	if _, err := c.ListCollections(ctx); err != nil {
		return "", false, err
	}
	id, ok := c.cachedID(name)
	return id, ok, nil
}

// GetOrCreateCollection returns the id of the named collection, creating it
// with the chunking config for its category when it does not exist.
// Concurrent callers for the same name share one lookup.
func (c *Client) GetOrCreateCollection(ctx context.Context, name string) (string, error) {
	if id, ok := c.cachedID(name); ok {
		return id, nil
	}

	v, err, _ := c.resolve.Do(name, func() (any, error) {
		id, ok, err := c.lookupCollection(ctx, name)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		c.logger.Info("Collection not found, creating", "collection", name)
		return c.createCollection(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) createCollection(ctx context.Context, name string) (string, error) {
	chunking := ChunkingFor(name)
	body := map[string]any{
		"properties": map[string]any{
			"name":        name,
			"description": "Narrative knowledge " + name + " collection",
			"chunking": map[string]any{
				"enabled": true,
				"strategy": map[string]any{
					"config": map[string]any{
						"chunk_size":    chunking.Size,
						"chunk_overlap": chunking.Overlap,
					},
				},
			},
			"embedding": map[string]any{"model": DefaultEmbeddingModel},
			"engine":    map[string]any{"db_type": "chromadb"},
		},
	}

	var created collectionItem
	if err := c.do(ctx, "create collection", http.MethodPost, "/collections", body, &created,
		http.StatusOK, http.StatusCreated); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create collection %s: response carried no id", name)
	}

	c.mu.Lock()
	c.ids[name] = created.ID
	c.mu.Unlock()
	c.logger.Info("Created collection", "collection", name, "id", created.ID)
	return created.ID, nil
}

// AddDocument uploads content as one plain-text document. Metadata is encoded
// into the document name.
func (c *Client) AddDocument(ctx context.Context, collection, content, title string, metadata map[string]any) error {
	id, err := c.GetOrCreateCollection(ctx, collection)
	if err != nil {
		return err
	}
	name, err := EncodeName(title, metadata)
	if err != nil {
		return fmt.Errorf("encode document name: %w", err)
	}

	body := map[string]any{
		"items": []map[string]any{{
			"properties": map[string]any{
				"name":        name,
				"contentType": "text/plain",
				"content":     base64.StdEncoding.EncodeToString([]byte(content)),
			},
		}},
	}
	err = c.do(ctx, "add document", http.MethodPut, "/collections/"+url.PathEscape(id)+"/documents", body, nil)
	if isStatus(err, http.StatusNotFound) {
		c.forget(collection)
		return fmt.Errorf("%w: %s", storage.ErrCollectionNotFound, collection)
	}
	return err
}

// ListDocuments returns every document in the collection. A collection that
// does not exist has no documents.
func (c *Client) ListDocuments(ctx context.Context, collection string) ([]DocumentInfo, error) {
	id, ok, err := c.lookupCollection(ctx, collection)
	if err != nil || !ok {
		return nil, err
	}

	var docs []DocumentInfo
	for offset := 0; ; offset += listPageSize {
		path := fmt.Sprintf("/collections/%s/documents?limit=%d&offset=%d", url.PathEscape(id), listPageSize, offset)
		var page documentList
		if err := c.do(ctx, "list documents", http.MethodGet, path, nil, &page, http.StatusOK); err != nil {
			if isStatus(err, http.StatusNotFound) {
				c.forget(collection)
				return nil, nil
			}
			return nil, err
		}
		for _, item := range page.Items {
			title, meta := DecodeName(item.Properties.Name)
			docs = append(docs, DocumentInfo{ID: item.ID, Title: title, Metadata: meta})
		}
		if len(page.Items) < listPageSize {
			return docs, nil
		}
	}
}

// DeleteDocument deletes one document. Missing documents are not an error.
func (c *Client) DeleteDocument(ctx context.Context, collection, docID string) error {
	id, ok, err := c.lookupCollection(ctx, collection)
	if err != nil || !ok {
		return err
	}
	path := "/collections/" + url.PathEscape(id) + "/documents/" + url.PathEscape(docID)
	err = c.do(ctx, "delete document", http.MethodDelete, path, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// Query runs a similarity query against one collection. Results carry the
// collection name and whatever metadata decodes from the document name.
func (c *Client) Query(ctx context.Context, collection, query string, limit int) ([]storage.Result, error) {
	id, err := c.GetOrCreateCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	body := map[string]any{"query": query, "limit": limit}
	err = c.do(ctx, "query collection", http.MethodPost, "/collections/"+url.PathEscape(id)+"/query", body, &resp, http.StatusOK)
	if isStatus(err, http.StatusNotFound) {
		c.forget(collection)
		return nil, fmt.Errorf("%w: %s", storage.ErrCollectionNotFound, collection)
	}
	if err != nil {
		return nil, err
	}

	results := make([]storage.Result, 0, len(resp.Properties.Matches))
	for _, m := range resp.Properties.Matches {
		props := m.Document.Properties
		content, err := base64.StdEncoding.DecodeString(props.Content)
		if err != nil {
			content = nil
		}
		title, meta := DecodeName(props.Name)
		results = append(results, storage.Result{
			Content:  string(content),
			Metadata: toMetadata(title, collection, meta),
			Score:    m.Score,
		})
	}
	return results, nil
}
