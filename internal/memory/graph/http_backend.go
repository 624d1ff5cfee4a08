package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// httpBackend is the alternative to neo4jBackend: the same Backend
// contract (AddTriplet, Search, Explore, Timeline, DeleteEdge,
// IngestEpisode, Health) reimplemented as JSON-over-HTTP calls against a
// remote graph service, for deployments where the graph store sits behind
// a network boundary rather than being reached through the neo4j driver.
type httpBackend struct {
	base   string
	client *http.Client
}

func newHTTPBackend(base string) (Backend, error) {
	if base == "" {
		return nil, fmt.Errorf("memory/graph: http backend requires a base url")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("memory/graph: invalid http base: %w", err)
	}
	return &httpBackend{base: base, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

func (b *httpBackend) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("memory/graph: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return fmt.Errorf("memory/graph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("memory/graph: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("memory/graph: http %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *httpBackend) AddTriplet(ctx context.Context, source, relation, target, fact, sourceType, targetType, group string) (Edge, error) {
	var edge Edge
	err := b.do(ctx, http.MethodPost, "/triplets", map[string]string{
		"source": source, "relation": relation, "target": target, "fact": fact,
		"source_type": sourceType, "target_type": targetType, "group": group,
	}, &edge)
	return edge, err
}

func (b *httpBackend) Search(ctx context.Context, query string, limit int) ([]Edge, error) {
	var edges []Edge
	path := "/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	err := b.do(ctx, http.MethodGet, path, nil, &edges)
	return edges, err
}

func (b *httpBackend) Explore(ctx context.Context, entity string, depth int) ([]Edge, error) {
	var edges []Edge
	path := "/explore?entity=" + url.QueryEscape(entity) + "&depth=" + strconv.Itoa(depth)
	err := b.do(ctx, http.MethodGet, path, nil, &edges)
	return edges, err
}

func (b *httpBackend) Timeline(ctx context.Context, since, until time.Time, limit int) ([]Edge, error) {
	var edges []Edge
	path := fmt.Sprintf("/timeline?since=%s&until=%s&limit=%d",
		url.QueryEscape(since.UTC().Format(time.RFC3339)), url.QueryEscape(until.UTC().Format(time.RFC3339)), limit)
	err := b.do(ctx, http.MethodGet, path, nil, &edges)
	return edges, err
}

func (b *httpBackend) DeleteEdge(ctx context.Context, uuid string) error {
	return b.do(ctx, http.MethodDelete, "/edges/"+url.PathEscape(uuid), nil, nil)
}

func (b *httpBackend) IngestEpisode(ctx context.Context, text, group string) error {
	return b.do(ctx, http.MethodPost, "/episodes", map[string]string{"text": text, "group": group}, nil)
}

func (b *httpBackend) Health(ctx context.Context) (bool, string) {
	if err := b.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

func (b *httpBackend) Close(ctx context.Context) error {
	return nil
}
