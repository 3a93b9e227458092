package hmc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// sessionHeader carries the API session token on every authenticated call.
const sessionHeader = "X-API-Session"

// jobPollInterval separates two polls of an asynchronous job.
const jobPollInterval = time.Second

// APIError is an error reported by the management appliance, decoded from
// its JSON error body.
type APIError struct {
	Status  int    `json:"http-status"`
	Reason  int    `json:"reason"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("appliance returned HTTP %d (reason %d): %s", e.Status, e.Reason, e.Message)
}

// IsAPIError checks if an error is an APIError
func IsAPIError(err error) bool {
	var e *APIError
	return errors.As(err, &e)
}

// Partition is the subset of partition properties the driver acts on.
type Partition struct {
	ObjectURI string `json:"object-uri"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// Job is the state of an asynchronous appliance operation.
type Job struct {
	Status        string `json:"status"`
	StatusCode    int    `json:"job-status-code"`
	ReasonCode    int    `json:"job-reason-code"`
	StatusMessage string `json:"job-results,omitempty"`
}

// Client talks to the management appliance's HTTP+JSON API. One Client holds
// at most one API session.
type Client struct {
	base       string
	httpClient *http.Client
	session    string
}

// NewClient builds a client for the appliance at host. A bare hostname gets
// the https scheme; appliances commonly run with self-signed certificates, so
// verification can be switched off.
func NewClient(host string, insecureTLS bool) *Client {
	base := host
	if !strings.Contains(host, "://") {
		base = "https://" + host
	}
	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: insecureTLS,
				},
			},
		},
	}
}

// Logon opens an API session.
func (c *Client) Logon(ctx context.Context, user, password string) error {
	body := map[string]string{"userid": user, "password": password}
	var result struct {
		Session string `json:"api-session"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &result); err != nil {
		return fmt.Errorf("failed to open appliance session: %w", err)
	}
	c.session = result.Session
	log.Debug().Str("host", c.base).Msg("Appliance session opened")
	return nil
}

// Logoff closes the API session. The client is unusable for authenticated
// calls afterwards.
func (c *Client) Logoff(ctx context.Context) error {
	if c.session == "" {
		return fmt.Errorf("no appliance session")
	}
	if err := c.do(ctx, http.MethodDelete, "/api/sessions/this-session", nil, nil); err != nil {
		return fmt.Errorf("failed to close appliance session: %w", err)
	}
	c.session = ""
	return nil
}

// FindPartition looks a partition up by name.
func (c *Client) FindPartition(ctx context.Context, name string) (*Partition, error) {
	var result struct {
		Partitions []Partition `json:"partitions"`
	}
	path := fmt.Sprintf("/api/partitions?name=%s", name)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	if len(result.Partitions) == 0 {
		return nil, fmt.Errorf("partition %q not found", name)
	}
	return &result.Partitions[0], nil
}

// StartPartition requests a partition start and returns the job URI.
func (c *Client) StartPartition(ctx context.Context, partition *Partition) (string, error) {
	return c.operation(ctx, partition, "start")
}

// StopPartition requests a partition stop and returns the job URI.
func (c *Client) StopPartition(ctx context.Context, partition *Partition) (string, error) {
	return c.operation(ctx, partition, "stop")
}

func (c *Client) operation(ctx context.Context, partition *Partition, name string) (string, error) {
	var result struct {
		JobURI string `json:"job-uri"`
	}
	path := fmt.Sprintf("%s/operations/%s", partition.ObjectURI, name)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return "", fmt.Errorf("%s of partition %q failed: %w", name, partition.Name, err)
	}
	return result.JobURI, nil
}

// UpdateProperties patches partition properties.
func (c *Client) UpdateProperties(ctx context.Context, partition *Partition, props map[string]interface{}) error {
	if err := c.do(ctx, http.MethodPost, partition.ObjectURI, props, nil); err != nil {
		return fmt.Errorf("failed to update partition %q: %w", partition.Name, err)
	}
	return nil
}

// WaitForJob polls an asynchronous job until completion or the context
// deadline.
func (c *Client) WaitForJob(ctx context.Context, jobURI string) error {
	for {
		var job Job
		if err := c.do(ctx, http.MethodGet, jobURI, nil, &job); err != nil {
			return fmt.Errorf("failed to poll job: %w", err)
		}
		switch job.Status {
		case "complete":
			if job.StatusCode >= 200 && job.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("job failed with status %d (reason %d)", job.StatusCode, job.ReasonCode)
		case "canceled":
			return fmt.Errorf("job was canceled")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jobPollInterval):
		}
	}
}

// do performs one API round-trip, decoding a JSON error body into APIError
// on non-2xx responses.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.session != "" {
		req.Header.Set(sessionHeader, c.session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
