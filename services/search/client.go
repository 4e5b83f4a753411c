package searchsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/querydesc/core"
	"github.com/trezcool/querydesc/core/querydesc"
)

// DefaultEndpoints are the generic search endpoints of the platform backend.
var DefaultEndpoints = []string{"searchRecord", "searchCourse", "searchStakeholder", "searchStudyGroup", "getRecords"}

var ErrUnknownEndpoint = errors.New("unknown search endpoint")

// BackendError is returned when the backend answers with an error status.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type envelope struct {
	Data querydesc.SearchResult `json:"data"`
}

type client struct {
	baseURL   string
	endpoints map[string]bool
	rest      *rest.Client
	logger    core.Logger
}

var _ querydesc.Searcher = (*client)(nil) // interface compliance check

func NewClient(conf *core.Config, logger core.Logger) *client {
	names := conf.Search.Endpoints
	if len(names) == 0 {
		names = DefaultEndpoints
	}
	endpoints := make(map[string]bool, len(names))
	for _, name := range names {
		endpoints[strings.Trim(name, "/ ")] = true
	}

	timeout := conf.Search.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		baseURL:   strings.TrimRight(conf.Search.BackendURL, "/"),
		endpoints: endpoints,
		rest:      &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		logger:    logger,
	}
}

// Search posts the descriptor to `endpoint`, forwarding the caller's bearer token.
func (c *client) Search(ctx context.Context, endpoint string, d querydesc.Descriptor, bearer string) (querydesc.SearchResult, error) {
	endpoint = strings.Trim(endpoint, "/ ")
	if !c.endpoints[endpoint] {
		return querydesc.SearchResult{}, errors.Wrap(ErrUnknownEndpoint, endpoint)
	}

	body, err := json.Marshal(d)
	if err != nil {
		return querydesc.SearchResult{}, errors.Wrap(err, "encoding descriptor")
	}
	req := rest.Request{
		Method:  rest.Post,
		BaseURL: c.baseURL + "/" + endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	}
	if bearer != "" {
		req.Headers["Authorization"] = "Bearer " + bearer
	}

	start := time.Now()
	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return querydesc.SearchResult{}, errors.Wrap(err, "building backend request")
	}
	httpRes, err := c.rest.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return querydesc.SearchResult{}, errors.Wrap(err, "calling backend")
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return querydesc.SearchResult{}, errors.Wrap(err, "reading backend response")
	}
	c.logger.Debug(fmt.Sprintf("search: POST /%s -> %d", endpoint, res.StatusCode), map[string]interface{}{"took": time.Since(start).String()})

	if res.StatusCode >= http.StatusBadRequest {
		return querydesc.SearchResult{}, &BackendError{StatusCode: res.StatusCode, Body: res.Body}
	}
	var env envelope
	if err = json.Unmarshal([]byte(res.Body), &env); err != nil {
		return querydesc.SearchResult{}, errors.Wrap(err, "decoding backend response")
	}
	if env.Data.Results == nil {
		env.Data.Results = []json.RawMessage{}
	}
	return env.Data, nil
}
