package shutdown

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

const maxResponseBody = 1 << 20

// EnsureFullCommitConfig configures the database commit request sent before shutdown
type EnsureFullCommitConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	// Databases to commit; empty means every database listed by /_all_dbs
	Databases []string          `yaml:"databases,omitempty"`
	Username  string            `yaml:"username,omitempty"`
	Password  string            `yaml:"password,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

type ensureFullCommitHook struct {
	config EnsureFullCommitConfig
	client *http.Client
	logger logging.Logger
}

// NewEnsureFullCommitHook asks the server to commit every database to disk
// with POST /{db}/_ensure_full_commit.
func NewEnsureFullCommitHook(config EnsureFullCommitConfig, client *http.Client, logger logging.Logger) Hook {
	if client == nil {
		client = &http.Client{}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &ensureFullCommitHook{
		config: config,
		client: client,
		logger: logger,
	}
}

func (h *ensureFullCommitHook) Name() string {
	return "ensure_full_commit"
}

func (h *ensureFullCommitHook) Run(ctx context.Context, target Target) error {
	databases := h.config.Databases
	if len(databases) == 0 {
		discovered, err := h.listDatabases(ctx)
		if err != nil {
			return err
		}
		databases = discovered
	}

	h.logger.Infof("Ensuring full commit, id: %s, databases: %v", target.ID, databases)

	var err error
	for _, db := range databases {
		if commitErr := h.commit(ctx, db); commitErr != nil {
			h.logger.Warnf("Full commit failed, id: %s, database: %s, error: %v", target.ID, db, commitErr)
			err = multierr.Append(err, commitErr)
		}
	}
	return err
}

func (h *ensureFullCommitHook) listDatabases(ctx context.Context) ([]string, error) {
	body, err := h.do(ctx, http.MethodGet, h.config.BaseURL+"/_all_dbs")
	if err != nil {
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, errors.NewNetworkError("unexpected _all_dbs response", nil).WithContext("body", string(body))
	}

	var databases []string
	for _, item := range result.Array() {
		name := item.String()
		// System databases are committed by the server itself
		if name == "" || strings.HasPrefix(name, "_") {
			continue
		}
		databases = append(databases, name)
	}
	return databases, nil
}

func (h *ensureFullCommitHook) commit(ctx context.Context, db string) error {
	endpoint := fmt.Sprintf("%s/%s/_ensure_full_commit", h.config.BaseURL, url.PathEscape(db))
	body, err := h.do(ctx, http.MethodPost, endpoint)
	if err != nil {
		return err
	}

	if ok := gjson.GetBytes(body, "ok"); ok.Exists() && !ok.Bool() {
		return errors.NewNetworkError("server refused full commit", nil).
			WithContext("database", db).WithContext("body", string(body))
	}
	return nil
}

func (h *ensureFullCommitHook) do(ctx context.Context, method, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, errors.NewValidationError("failed to create request", err).WithContext("url", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}
	if h.config.Username != "" {
		req.SetBasicAuth(h.config.Username, h.config.Password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError("request cancelled", err).WithContext("url", endpoint)
		}
		return nil, errors.NewNetworkError("request failed", err).WithContext("url", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, errors.NewNetworkError("failed to read response", err).WithContext("url", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewNetworkError(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).
			WithContext("url", endpoint).WithContext("body", string(body))
	}
	return body, nil
}
