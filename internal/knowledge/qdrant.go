package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	payloadText     = "text"
	payloadFileName = "file_name"
	payloadIndex    = "chunk_index"

	scrollPageSize = 256
	upsertBatch    = 128
)

// QdrantError describes a failed Qdrant call.
type QdrantError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *QdrantError) Error() string {
	return fmt.Sprintf("qdrant %s: status=%d %s", e.Operation, e.StatusCode, e.Message)
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantScrollResult struct {
	Points         []qdrantPoint   `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// QdrantIndex stores each tenant's chunks in its own Qdrant collection.
type QdrantIndex struct {
	http *resty.Client
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex creates an index talking to the Qdrant REST API at baseURL.
func NewQdrantIndex(baseURL, apiKey string, timeout time.Duration) *QdrantIndex {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("api-key", apiKey)
	}
	return &QdrantIndex{http: client}
}

// Ready checks the readiness endpoint.
func (q *QdrantIndex) Ready(ctx context.Context) error {
	resp, err := q.http.R().SetContext(ctx).Get("/readyz")
	if err != nil {
		return fmt.Errorf("qdrant readyz: %w", err)
	}
	if resp.IsError() {
		return &QdrantError{Operation: "readyz", StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

// CollectionExists implements Index.
func (q *QdrantIndex) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	err := q.do(ctx, "get_collection", http.MethodGet, collectionPath(tenantID, ""), nil, nil)
	var qe *QdrantError
	if errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureCollection implements Index.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, tenantID string, dim int) error {
	exists, err := q.CollectionExists(ctx, tenantID)
	if err != nil || exists {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := q.do(ctx, "create_collection", http.MethodPut, collectionPath(tenantID, ""), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": payloadFileName, "field_schema": "keyword"}
	return q.do(ctx, "create_index", http.MethodPut, collectionPath(tenantID, "/index?wait=true"), index, nil)
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, tenantID string, chunks []Chunk) error {
	for start := 0; start < len(chunks); start += upsertBatch {
		end := start + upsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		points := make([]map[string]any, 0, end-start)
		for _, c := range chunks[start:end] {
			points = append(points, map[string]any{
				"id":     c.ID(),
				"vector": c.Vector,
				"payload": map[string]any{
					payloadText:     c.Text,
					payloadFileName: c.FileName,
					payloadIndex:    c.Index,
				},
			})
		}
		body := map[string]any{"points": points}
		if err := q.do(ctx, "upsert", http.MethodPut, collectionPath(tenantID, "/points?wait=true"), body, nil); err != nil {
			return err
		}
	}
	return nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Passage, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var points []qdrantPoint
	err := q.do(ctx, "search", http.MethodPost, collectionPath(tenantID, "/points/search"), body, &points)
	var qe *QdrantError
	if errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, err
	}

	out := make([]Passage, 0, len(points))
	for _, p := range points {
		text, _ := p.Payload[payloadText].(string)
		if text == "" {
			continue
		}
		fileName, _ := p.Payload[payloadFileName].(string)
		out = append(out, Passage{Text: text, FileName: fileName, Score: p.Score, Source: SourceVector})
	}
	return out, nil
}

// DeleteFile implements Index.
func (q *QdrantIndex) DeleteFile(ctx context.Context, tenantID, fileName string) error {
	body := map[string]any{"filter": fileFilter(fileName)}
	err := q.do(ctx, "delete", http.MethodPost, collectionPath(tenantID, "/points/delete?wait=true"), body, nil)
	var qe *QdrantError
	if errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// FileNames implements Index.
func (q *QdrantIndex) FileNames(ctx context.Context, tenantID string) ([]string, error) {
	seen := make(map[string]struct{})
	var offset json.RawMessage
	for {
		body := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{payloadFileName},
			"with_vector":  false,
		}
		if len(offset) > 0 {
			body["offset"] = offset
		}
		var page qdrantScrollResult
		err := q.do(ctx, "scroll", http.MethodPost, collectionPath(tenantID, "/points/scroll"), body, &page)
		var qe *QdrantError
		if errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			if name, _ := p.Payload[payloadFileName].(string); name != "" {
				seen[name] = struct{}{}
			}
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			break
		}
		offset = page.NextPageOffset
	}
	return sortedKeys(seen), nil
}

// Drop implements Index.
func (q *QdrantIndex) Drop(ctx context.Context, tenantID string) error {
	err := q.do(ctx, "drop", http.MethodDelete, collectionPath(tenantID, ""), nil, nil)
	var qe *QdrantError
	if errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (q *QdrantIndex) do(ctx context.Context, op, method, path string, in, out any) error {
	req := q.http.R().SetContext(ctx)
	if in != nil {
		req.SetBody(in)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	if resp.IsError() {
		return &QdrantError{Operation: op, StatusCode: resp.StatusCode(), Message: truncate(resp.String(), 512)}
	}
	if out == nil {
		return nil
	}

	var env qdrantEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("qdrant %s: decode envelope: %w", op, err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("qdrant %s: decode result: %w", op, err)
	}
	return nil
}

func collectionPath(tenantID, suffix string) string {
	return "/collections/" + CollectionName(tenantID) + suffix
}

func fileFilter(fileName string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": payloadFileName, "match": map[string]any{"value": fileName}},
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
