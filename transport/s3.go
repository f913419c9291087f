package transport

import (
	"context"
	"io"
	"log"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/holey/keychain"
)

// defaultRegion is used when an aws-credentials entry gives no region.
const defaultRegion = "us-east-1"

// An s3Handler reads objects from S3 or an S3 compatible store. URLs have
// the form s3://bucket/key.
type s3Handler struct {
	cfg      Config
	sessions *Sessions
}

type s3Session struct {
	svc *s3.S3
}

func (s *s3Session) Close() error { return nil }

// newS3 makes a client from an aws-credentials keychain entry. Without an
// entry the default credential chain of the SDK is used.
func (h *s3Handler) newS3(entry keychain.Entry, hasAuth bool) (*s3Session, error) {
	httpClient, err := newHTTPClient(h.cfg)
	if err != nil {
		return nil, err
	}
	httpClient.Jar = nil
	config := aws.Config{
		Region:     aws.String(defaultRegion),
		HTTPClient: httpClient,
		MaxRetries: aws.Int(0), // we do our own
	}
	opts := awssession.Options{SharedConfigState: awssession.SharedConfigEnable}
	if hasAuth {
		if r := entry.Param("region"); r != "" {
			config.Region = aws.String(r)
		}
		if ep := entry.Param("endpoint"); ep != "" {
			config.Endpoint = aws.String(ep)
			config.S3ForcePathStyle = aws.Bool(true)
		}
		switch {
		case entry.Param("anonymous") == "true":
			config.Credentials = credentials.AnonymousCredentials
		case entry.Param("access_key") != "":
			config.Credentials = credentials.NewStaticCredentials(
				entry.Param("access_key"),
				entry.Param("secret_key"),
				entry.Param("session_token"))
		}
		opts.Profile = entry.Param("profile")
	}
	opts.Config = config
	sess, err := awssession.NewSessionWithOptions(opts)
	if err != nil {
		return nil, errors.Wrap(err, "aws session")
	}
	if arn := entry.Param("role_arn"); hasAuth && arn != "" {
		sess = sess.Copy(&aws.Config{Credentials: stscreds.NewCredentials(sess, arn)})
	}
	return &s3Session{svc: s3.New(sess)}, nil
}

func (h *s3Handler) Fetch(ctx context.Context, u *url.URL, dest string, keys keychain.Keychain) (Outcome, error) {
	bucket, key, err := objectPath(u)
	if err != nil {
		return Failed, err
	}
	entry, hasAuth := keys.Select(u.String(), keychain.AWSCredentials)
	s, err := h.sessions.Get("s3:"+bucket+"|"+entry.URI, func() (io.Closer, error) {
		return h.newS3(entry, hasAuth)
	})
	if err != nil {
		return Failed, err
	}
	svc := s.(*s3Session).svc
	retry := newBackoff(h.cfg)
	for {
		err = h.get(ctx, svc, bucket, key, dest)
		if err == nil {
			return Fetched, nil
		}
		status := 0
		if e, ok := err.(awserr.RequestFailure); ok {
			status = e.StatusCode()
		}
		if (isTimeout(err) || h.cfg.retryCode(status)) && retry.wait(ctx) {
			continue
		}
		log.Println("S3 Fetch:", bucket, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": bucket, "Key": key})
		return Failed, err
	}
}

func (h *s3Handler) get(ctx context.Context, svc *s3.S3, bucket, key, dest string) error {
	output, err := svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()
	_, err = writeFile(dest, output.Body)
	return err
}
