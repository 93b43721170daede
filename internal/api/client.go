package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tubemux/internal/services"
)

// ErrAPIUnavailable is returned when no daemon address is configured.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client talks to a running tubemuxd over HTTP.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon listening on bind. A bare
// host:port is treated as http.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout: artifact downloads run until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Submit creates a job and returns its initial record.
func (c *Client) Submit(ctx context.Context, rawURL, tier string) (JobView, error) {
	body, err := json.Marshal(SubmitRequest{URL: rawURL, Tier: tier})
	if err != nil {
		return JobView{}, err
	}
	var payload JobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs", nil, bytes.NewReader(body), &payload); err != nil {
		return JobView{}, err
	}
	return payload.Job, nil
}

// SubmitPlaylist creates one job per playlist entry.
func (c *Client) SubmitPlaylist(ctx context.Context, rawURL, tier string, maxItems int) (PlaylistResponse, error) {
	body, err := json.Marshal(PlaylistRequest{URL: rawURL, Tier: tier, MaxItems: maxItems})
	if err != nil {
		return PlaylistResponse{}, err
	}
	var payload PlaylistResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/playlists", nil, bytes.NewReader(body), &payload); err != nil {
		return PlaylistResponse{}, err
	}
	return payload, nil
}

// Get returns the current record for id.
func (c *Client) Get(ctx context.Context, id string) (JobView, error) {
	var payload JobResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &payload); err != nil {
		return JobView{}, err
	}
	return payload.Job, nil
}

// List returns jobs, optionally filtered by status names.
func (c *Client) List(ctx context.Context, statuses ...string) ([]JobView, error) {
	values := url.Values{}
	for _, status := range statuses {
		if status = strings.TrimSpace(status); status != "" {
			values.Add("status", status)
		}
	}
	var payload JobListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs", values, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

// Cancel requests cancellation and returns the record as of the request.
func (c *Client) Cancel(ctx context.Context, id string) (JobView, error) {
	var payload JobResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil, &payload); err != nil {
		return JobView{}, err
	}
	return payload.Job, nil
}

// Status returns daemon diagnostics.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var payload DaemonStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, nil, &payload); err != nil {
		return DaemonStatus{}, err
	}
	return payload, nil
}

// LogQuery selects which part of the daemon log to fetch.
type LogQuery struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	JobID  string
}

// Logs fetches daemon log lines. Offset < 0 asks for the last Limit lines.
func (c *Client) Logs(ctx context.Context, q LogQuery) (LogTailResponse, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(q.Offset, 10))
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
		if q.Wait > 0 {
			values.Set("wait_ms", strconv.FormatInt(q.Wait.Milliseconds(), 10))
		}
	}
	if id := strings.TrimSpace(q.JobID); id != "" {
		values.Set("job", id)
	}
	var payload LogTailResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/logs", values, nil, &payload); err != nil {
		return LogTailResponse{}, err
	}
	return payload, nil
}

// Download streams the artifact of a ready job into w and returns the
// filename advertised by the daemon.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (string, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/artifact", nil, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", 0, decodeError(resp)
	}
	filename := id
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return filename, written, services.Wrap(services.ErrTransfer, "api", "download", "artifact transfer interrupted", err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return filename, written, services.Wrap(services.ErrTransfer, "api", "download",
			fmt.Sprintf("received %d of %d bytes", written, resp.ContentLength), nil)
	}
	return filename, written, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// decodeError rebuilds a classified error from a JSON error body.
func decodeError(resp *http.Response) error {
	var payload ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = resp.Status
		}
	}
	kind := services.ErrorKind(payload.Kind)
	if kind == "" {
		kind = kindForStatus(resp.StatusCode)
	}
	err := services.Wrap(services.MarkerFor(kind), "api", fmt.Sprintf("status %d", resp.StatusCode), payload.Error, nil)
	if payload.Hint != "" {
		err = services.WithHint(err, payload.Hint)
	}
	return err
}

func kindForStatus(code int) services.ErrorKind {
	switch code {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized, http.StatusTooManyRequests:
		return services.ErrorKindValidation
	case http.StatusNotFound:
		return services.ErrorKindNotFound
	default:
		return services.ErrorKindTransient
	}
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
