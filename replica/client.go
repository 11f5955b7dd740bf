/*
Copyright 2024 Rosync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/internal/apierror"
)

// MaxBatchSize is the hard sub-request limit of the external batch endpoint.
// Batches above it are a programmer error and fail before anything is sent.
const MaxBatchSize = 20

// ErrRateLimited is the retryable sentinel for a throttled replica API. Any
// rate-limited sub-response fails the whole enclosing operation with this
// error so the scheduler's backoff takes over; sub-batches are never retried
// in place.
var ErrRateLimited = apierror.NewAPIError(apierror.ErrRateLimited, "replica API rate limited", nil)

// Request is one sub-request of a workbook batch call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	URL    string          `json:"url"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Response is one sub-response of a workbook batch call. Status 2xx-3xx is
// success, 429 is rate-limited, anything else is a hard failure.
type Response struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// BatchReport summarizes a set of batch responses for job bookkeeping.
type BatchReport struct {
	SuccessCount  int      `json:"success_count"`
	FailedCount   int      `json:"failed_count"`
	RateLimited   bool     `json:"rate_limited"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// Client talks to the session-based workbook batch API. It holds no session
// state itself; every operation opens and closes its own session.
type Client struct {
	baseURL string
	tokens  *TokenSource
	http    *http.Client
}

func NewClient(baseURL string, tokens *TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// HTTPClient exposes the underlying HTTP client so interceptors can be
// installed around replica calls.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Session is an ephemeral handle scoped to one logical operation. It is owned
// exclusively by the operation that opened it and must be closed exactly once,
// including on error paths, or replica changes are not persisted.
type Session struct {
	client     *Client
	workbookID string
	id         string
	closed     bool
}

// OpenSession creates a persisted workbook session.
func (c *Client) OpenSession(ctx context.Context, workbookID string) (*Session, error) {
	var result struct {
		ID string `json:"id"`
	}
	body := map[string]interface{}{"persistChanges": true}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workbooks/%s/createSession", workbookID), "", body, &result)
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook session")
	}
	if result.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "replica API returned an empty session id", nil)
	}
	return &Session{client: c, workbookID: workbookID, id: result.ID}, nil
}

// Close ends the session. Closing twice is a no-op so deferred closes on
// error paths stay safe.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/workbooks/%s/closeSession", s.workbookID), s.id, nil, nil)
	if err != nil {
		return errors.Wrap(err, "closing workbook session")
	}
	return nil
}

// Execute runs one chunk of batched sub-requests inside the session. Chunks
// above MaxBatchSize are rejected before anything is sent.
func (s *Session) Execute(ctx context.Context, requests []Request) ([]Response, error) {
	if len(requests) > MaxBatchSize {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("batch of %d requests exceeds the limit of %d", len(requests), MaxBatchSize), nil)
	}
	if len(requests) == 0 {
		return nil, nil
	}

	var result struct {
		Responses []Response `json:"responses"`
	}
	body := map[string]interface{}{"requests": requests}
	err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/workbooks/%s/$batch", s.workbookID), s.id, body, &result)
	if err != nil {
		return nil, errors.Wrap(err, "executing workbook batch")
	}
	return result.Responses, nil
}

// ReadRange reads the values of one sheet range inside the session.
func (s *Session) ReadRange(ctx context.Context, sheet, address string) ([][]interface{}, error) {
	var result struct {
		Values [][]interface{} `json:"values"`
	}
	path := fmt.Sprintf("/workbooks/%s/worksheets('%s')/range(address='%s')?$select=values", s.workbookID, sheet, address)
	err := s.client.do(ctx, http.MethodGet, path, s.id, nil, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "reading range %s!%s", sheet, address)
	}
	return result.Values, nil
}

// UsedRowCount returns the number of rows the sheet's used range spans,
// header included. An empty sheet reports zero.
func (s *Session) UsedRowCount(ctx context.Context, sheet string) (int, error) {
	var result struct {
		RowCount int `json:"rowCount"`
	}
	path := fmt.Sprintf("/workbooks/%s/worksheets('%s')/usedRange?$select=rowCount", s.workbookID, sheet)
	err := s.client.do(ctx, http.MethodGet, path, s.id, nil, &result)
	if err != nil {
		return 0, errors.Wrapf(err, "reading used range of %s", sheet)
	}
	return result.RowCount, nil
}

// Analyze classifies a set of batch responses. A single rate-limited
// sub-response marks the whole report rate-limited.
func Analyze(responses []Response) BatchReport {
	report := BatchReport{}
	for _, resp := range responses {
		switch {
		case resp.Status >= 200 && resp.Status < 400:
			report.SuccessCount++
		case resp.Status == http.StatusTooManyRequests:
			report.RateLimited = true
			report.FailedCount++
			report.ErrorMessages = append(report.ErrorMessages, fmt.Sprintf("request %s: rate limited", resp.ID))
		default:
			report.FailedCount++
			report.ErrorMessages = append(report.ErrorMessages, fmt.Sprintf("request %s: status %d", resp.ID, resp.Status))
		}
	}
	return report
}

// WithSession opens a session against the workbook, runs fn with it, and
// guarantees the session is closed on every exit path. This is the only
// supported way for engine operations to touch the replica; nothing caches a
// session across operations.
func WithSession(ctx context.Context, c *Client, workbookID string, fn func(ctx context.Context, s *Session) error) error {
	session, err := c.OpenSession(ctx, workbookID)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(ctx); closeErr != nil {
			logrus.Errorf("error closing workbook session: %v", closeErr)
		}
	}()
	return fn(ctx, session)
}

// PatchRowRequest builds the batch sub-request that overwrites one full data
// row of a sheet.
func PatchRowRequest(id, sheet string, rowIndex int, values []interface{}) Request {
	body, _ := json.Marshal(map[string]interface{}{
		"values": [][]interface{}{values},
	})
	return Request{
		ID:     id,
		Method: http.MethodPatch,
		URL:    fmt.Sprintf("/worksheets('%s')/range(address='%s')", sheet, RowAddress(rowIndex)),
		Body:   body,
	}
}

// DeleteRowRequest builds the batch sub-request that deletes one data row,
// shifting the rows below it up.
func DeleteRowRequest(id, sheet string, rowIndex int) Request {
	body, _ := json.Marshal(map[string]string{"shift": "Up"})
	return Request{
		ID:     id,
		Method: http.MethodPost,
		URL:    fmt.Sprintf("/worksheets('%s')/range(address='%s')/delete", sheet, RowAddress(rowIndex)),
		Body:   body,
	}
}

// RowAddress returns the A1-style address spanning all mapped columns of one
// row, e.g. "A5:U5" for the 21-column layout.
func RowAddress(rowIndex int) string {
	return fmt.Sprintf("A%d:%s%d", rowIndex, columnLetter(ColumnCount), rowIndex)
}

// columnLetter converts a 1-based column count into its spreadsheet letter.
func columnLetter(n int) string {
	letters := ""
	for n > 0 {
		n--
		letters = string(rune('A'+n%26)) + letters
		n /= 26
	}
	return letters
}

// do performs one authenticated HTTP call against the replica API, with the
// workbook session id attached when present.
func (c *Client) do(ctx context.Context, method, path, sessionID string, body, result interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("workbook-session-id", sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("replica API error %d: %s", resp.StatusCode, bytes.TrimSpace(data)), nil)
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, result)
}
