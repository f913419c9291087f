package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/ndlib/holey/keychain"
)

// A globusHandler asks the Globus Transfer service to copy a file from a
// remote endpoint onto the local endpoint named in the keychain, and waits
// for the task to finish. URLs have the form globus://endpoint-id/path.
//
// The keychain entry needs a transfer_token and a local_endpoint. If the
// local endpoint does not expose the file system at its root, local_root
// and local_path map a local directory to the path the endpoint uses for
// it.
type globusHandler struct {
	cfg      Config
	sessions *Sessions
}

type globusSession struct {
	client *http.Client
}

func (s *globusSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// errGlobusTask means a transfer task ended without succeeding.
var errGlobusTask = errors.New("globus transfer task failed")

func (h *globusHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	entry, ok := keys.Select(u.String(), keychain.GlobusTransfer)
	if !ok {
		return Failed, errors.Errorf("%s: no globus-transfer credentials", u)
	}
	s, err := h.sessions.Get("globus:"+entry.URI, func() (io.Closer, error) {
		base, err := newHTTPClient(h.cfg)
		if err != nil {
			return nil, err
		}
		base.Jar = nil
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: entry.Param("transfer_token")})
		octx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		return &globusSession{client: oauth2.NewClient(octx, ts)}, nil
	})
	if err != nil {
		return Failed, err
	}
	client := s.(*globusSession).client

	submission, err := h.call(ctx, client, "GET", "/submission_id", nil)
	if err != nil {
		return Failed, err
	}
	id, err := submission.GetString("value")
	if err != nil {
		return Failed, errors.Wrap(err, "globus submission id")
	}
	task := map[string]interface{}{
		"DATA_TYPE":            "transfer",
		"submission_id":        id,
		"source_endpoint":      u.Host,
		"destination_endpoint": entry.Param("local_endpoint"),
		"label":                "holey fetch " + uuid.New().String(),
		"DATA": []map[string]interface{}{{
			"DATA_TYPE":        "transfer_item",
			"source_path":      u.Path,
			"destination_path": globusLocalPath(entry, dest),
		}},
	}
	body, err := json.Marshal(task)
	if err != nil {
		return Failed, err
	}
	submitted, err := h.call(ctx, client, "POST", "/transfer", body)
	if err != nil {
		return Failed, err
	}
	taskID, err := submitted.GetString("task_id")
	if err != nil {
		return Failed, errors.Wrap(err, "globus task id")
	}
	log.Printf("fetch: globus task %s copying %s", taskID, u)
	return h.wait(ctx, client, taskID)
}

// wait polls the task until it succeeds or fails.
func (h *globusHandler) wait(ctx context.Context, client *http.Client, taskID string) (Outcome, error) {
	for {
		status, err := h.call(ctx, client, "GET", "/task/"+taskID, nil)
		if err != nil {
			return Failed, err
		}
		s, _ := status.GetString("status")
		switch s {
		case "SUCCEEDED":
			return Fetched, nil
		case "FAILED", "INACTIVE":
			reason, _ := status.GetString("nice_status")
			return Failed, errors.Wrapf(errGlobusTask, "task %s: %s %s", taskID, s, reason)
		}
		select {
		case <-h.cfg.Clock.After(h.cfg.GlobusPoll):
		case <-ctx.Done():
			return Failed, ctx.Err()
		}
	}
}

// call makes one request to the transfer API and decodes the JSON reply.
// Retryable statuses are retried with backoff.
func (h *globusHandler) call(ctx context.Context, client *http.Client, method, endpoint string, body []byte) (*jason.Object, error) {
	retry := newBackoff(h.cfg)
	for {
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(h.cfg.GlobusAPI, "/")+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			if isTimeout(err) && retry.wait(ctx) {
				continue
			}
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			if h.cfg.retryCode(resp.StatusCode) && retry.wait(ctx) {
				continue
			}
			return nil, errors.Wrapf(ErrStatus, "globus %s %s: %s", method, endpoint, resp.Status)
		}
		obj, err := jason.NewObjectFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "globus %s %s", method, endpoint)
		}
		return obj, nil
	}
}

// globusLocalPath gives the path the local endpoint uses for dest.
func globusLocalPath(entry keychain.Entry, dest string) string {
	root, prefix := entry.Param("local_root"), entry.Param("local_path")
	if root == "" || prefix == "" {
		return filepath.ToSlash(dest)
	}
	rel, err := filepath.Rel(root, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(dest)
	}
	return path.Join(prefix, filepath.ToSlash(rel))
}
