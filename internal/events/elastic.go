package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
)

const DefaultIndex = "auth_events"

type ESConfig struct {
	URL      string
	User     string
	Password string
	Index    string

	// Transport overrides the HTTP transport; tests point it at httptest servers.
	Transport http.RoundTripper
}

// ESIndexer writes events into an audit index.
type ESIndexer struct {
	client *elasticsearch.Client
	index  string
}

func NewESIndexer(cfg ESConfig) (*ESIndexer, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}
	return &ESIndexer{client: client, index: cfg.Index}, nil
}

// Ping checks the cluster answers.
func (x *ESIndexer) Ping(ctx context.Context) error {
	res, err := x.client.Info(x.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch: info: %s", res.Status())
	}
	return nil
}

func (x *ESIndexer) Publish(ctx context.Context, e Event) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("elasticsearch: encode event: %w", err)
	}

	res, err := x.client.Index(
		x.index,
		&buf,
		x.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("elasticsearch: index %s: %s: %s", x.index, res.Status(), body)
	}
	return nil
}
