package transport

import (
	"context"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/ndlib/holey/keychain"
)

// A gcsHandler reads objects from Google Cloud Storage. URLs have the form
// gs://bucket/object.
type gcsHandler struct {
	cfg      Config
	sessions *Sessions
}

type gcsSession struct {
	client *storage.Client
}

func (s *gcsSession) Close() error {
	return s.client.Close()
}

// gcsOptions returns the client options for a gcs-credentials entry. Without
// an entry the client does not authenticate, which works for public
// buckets.
func gcsOptions(entry keychain.Entry, hasAuth bool) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case !hasAuth || entry.Param("anonymous") == "true":
		opts = append(opts, option.WithoutAuthentication())
	default:
		opts = append(opts, option.WithCredentialsFile(entry.Param("credentials_file")))
	}
	if hasAuth && entry.Param("project") != "" {
		opts = append(opts, option.WithQuotaProject(entry.Param("project")))
	}
	if hasAuth && entry.Param("endpoint") != "" {
		opts = append(opts, option.WithEndpoint(entry.Param("endpoint")))
	}
	return opts
}

func (h *gcsHandler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	bucket, object, err := objectPath(u)
	if err != nil {
		return Failed, err
	}
	entry, hasAuth := keys.Select(u.String(), keychain.GCSCredentials)
	s, err := h.sessions.Get("gs:"+bucket+"|"+entry.URI, func() (io.Closer, error) {
		// the client outlives this fetch, so it gets its own context
		client, err := storage.NewClient(context.Background(), gcsOptions(entry, hasAuth)...)
		if err != nil {
			return nil, errors.Wrap(err, "gcs client")
		}
		return &gcsSession{client: client}, nil
	})
	if err != nil {
		return Failed, err
	}
	client := s.(*gcsSession).client
	retry := newBackoff(h.cfg)
	for {
		err = h.get(ctx, client, bucket, object, dest)
		if err == nil {
			return Fetched, nil
		}
		if err == storage.ErrObjectNotExist || err == storage.ErrBucketNotExist {
			return Failed, errors.Wrapf(err, "%s", u)
		}
		if !isTimeout(err) || !retry.wait(ctx) {
			return Failed, err
		}
	}
}

func (h *gcsHandler) get(ctx context.Context, client *storage.Client, bucket, object, dest string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opening := time.AfterFunc(h.cfg.ConnectTimeout+h.cfg.ReadTimeout, cancel)
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	opening.Stop()
	if err != nil {
		return err
	}
	defer r.Close()
	body := newIdleReader(r, h.cfg.ReadTimeout, cancel)
	defer body.stop()
	_, err = writeFile(dest, body)
	if err != nil && body.expired() {
		err = errors.Wrapf(context.DeadlineExceeded, "gs://%s/%s: no data for %s", bucket, object, h.cfg.ReadTimeout)
	}
	return err
}
