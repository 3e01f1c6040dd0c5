package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/core-tools/hsu-couchbar/pkg/domain"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

// NewHTTPClientGateway talks to a control server at baseURL, e.g. http://127.0.0.1:5985
func NewHTTPClientGateway(baseURL string, client *http.Client, logger logging.Logger) (*HTTPClientGateway, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.NewValidationError("invalid control URL: "+baseURL, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &HTTPClientGateway{
		baseURL: strings.TrimSuffix(parsed.String(), "/"),
		client:  client,
		logger:  logger,
	}, nil
}

type HTTPClientGateway struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func (gw *HTTPClientGateway) Status(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	if err := gw.doJSON(ctx, http.MethodGet, "/status", &status); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return domain.Status{}, err
	}
	gw.logger.Debugf("Status client gateway done")
	return status, nil
}

func (gw *HTTPClientGateway) Start(ctx context.Context) (*supervisor.Handle, error) {
	var handle supervisor.Handle
	if err := gw.doJSON(ctx, http.MethodPost, "/start", &handle); err != nil {
		gw.logger.Errorf("Start client gateway: %v", err)
		return nil, err
	}
	gw.logger.Debugf("Start client gateway done, pid: %d", handle.PID)
	return &handle, nil
}

func (gw *HTTPClientGateway) Stop(ctx context.Context) error {
	var response stopResponse
	if err := gw.doJSON(ctx, http.MethodPost, "/stop", &response); err != nil {
		gw.logger.Errorf("Stop client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("Stop client gateway done")
	return nil
}

func (gw *HTTPClientGateway) Output(ctx context.Context) ([]byte, error) {
	response, err := gw.do(ctx, http.MethodGet, "/output")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.NewNetworkError("failed to read output", err)
	}
	return data, nil
}

func (gw *HTTPClientGateway) FollowOutput(ctx context.Context, w io.Writer) error {
	response, err := gw.do(ctx, http.MethodGet, "/output?follow=1")
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if _, err := io.Copy(w, response.Body); err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("output follow cancelled", ctx.Err())
		}
		return errors.NewNetworkError("output stream interrupted", err)
	}
	return nil
}

func (gw *HTTPClientGateway) AdminURL(ctx context.Context) (string, error) {
	var response adminURLResponse
	if err := gw.doJSON(ctx, http.MethodGet, "/admin-url", &response); err != nil {
		return "", err
	}
	return response.URL, nil
}

func (gw *HTTPClientGateway) doJSON(ctx context.Context, method, path string, out interface{}) error {
	response, err := gw.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return errors.NewNetworkError("failed to decode control API response", err).WithContext("path", path)
	}
	return nil
}

// do returns the response only for 2xx status codes; anything else is decoded into an error
func (gw *HTTPClientGateway) do(ctx context.Context, method, path string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, gw.baseURL+path, nil)
	if err != nil {
		return nil, errors.NewValidationError("failed to build control API request", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := gw.client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("control API request cancelled", ctx.Err())
		}
		return nil, errors.NewNetworkError("control API request failed", err).WithContext("url", gw.baseURL+path)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return response, nil
	}
	defer response.Body.Close()

	var body errorResponse
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&body); decodeErr != nil {
		return nil, decodeError(response.StatusCode, nil)
	}
	return nil, decodeError(response.StatusCode, &body)
}

var (
	_ domain.Contract       = (*HTTPClientGateway)(nil)
	_ domain.OutputFollower = (*HTTPClientGateway)(nil)
)
