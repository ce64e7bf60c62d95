// Package glacier implements the Backend Capability (C3) against Amazon S3
// Glacier's REST multipart upload API, driven directly over net/http rather
// than through the high-level AWS SDK Glacier client: the engine needs
// request-level control (its own scheduler, backoff, and streaming tree
// hash) that the SDK's built-in retryer doesn't expose. Credential
// discovery, region→endpoint resolution and SigV4 signing still come from
// github.com/aws/aws-sdk-go, exactly as the teacher project depends on it.
package glacier

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/pkg/errors"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/log"
	"github.com/wilsonzlin/ltsu/internal/part"
	"github.com/wilsonzlin/ltsu/internal/treehash"
)

const (
	apiVersion = "2012-06-01"
	service    = "glacier"

	minPartSize int64 = 1 << 20        // 1 MiB
	maxPartSize int64 = 4 << 30        // 4 GiB
	maxParts          = 10000
	minParts          = 1

	// accountID is always "-" (current account, resolved from credentials);
	// the CLI surface (§6) doesn't expose an AWS account id flag.
	accountID = "-"
)

// Options configures a Glacier backend instance.
type Options struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	VaultName       string

	// HTTPClient overrides the transport used for every request. Tests
	// substitute an httptest.Server-backed client here.
	HTTPClient *http.Client

	// RequestTimeout bounds each individual HTTP request (§5: default 120s).
	RequestTimeout time.Duration
}

// Glacier implements backend.Backend against the Glacier REST API.
type Glacier struct {
	logger     log.Logger
	vaultName  string
	endpoint   string
	region     string
	signer     *v4.Signer
	httpClient *http.Client
	timeout    time.Duration
}

// New authenticates (resolves credentials via the standard AWS provider
// chain when Options doesn't supply static keys) and resolves the regional
// Glacier endpoint.
func New(logger log.Logger, opts Options) (*Glacier, error) {
	var creds *credentials.Credentials
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		creds = credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, "")
	} else {
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, errors.WithStack(newError(ErrorCodeInitializingSession, err))
		}
		creds = sess.Config.Credentials
	}

	resolved, err := endpoints.DefaultResolver().EndpointFor(endpoints.GlacierServiceID, opts.Region)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeInitializingSession, err))
	}

	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Glacier{
		logger:     logger,
		vaultName:  opts.VaultName,
		endpoint:   resolved.URL,
		region:     resolved.SigningRegion,
		signer:     v4.NewSigner(creds),
		httpClient: httpClient,
		timeout:    timeout,
	}, nil
}

// Limits returns Glacier's structural constraints: part size must be a
// power of two between 1 MiB and 4 GiB, and a vault accepts up to 10,000
// parts per multipart upload.
func (g *Glacier) Limits() backend.Limits {
	return backend.Limits{
		MinParts:    minParts,
		MaxParts:    maxParts,
		MinPartSize: minPartSize,
		MaxPartSize: maxPartSize,
	}
}

// IdealPartSize starts from nextPowerOfTwo(size/maxParts) and clamps into
// range; power-of-two is mandatory because the tree-hash leaf scheme assumes
// it (§4.4).
func (g *Glacier) IdealPartSize(ctx context.Context, size int64) (int64, error) {
	ideal := nextPowerOfTwo(size / maxParts)
	if ideal < minPartSize {
		ideal = minPartSize
	}
	if ideal > maxPartSize {
		ideal = maxPartSize
	}
	return ideal, nil
}

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Initiate starts a new multipart upload and returns the glacier-assigned
// upload id.
func (g *Glacier) Initiate(ctx context.Context, name string, partSize int64) (string, error) {
	path := fmt.Sprintf("/%s/vaults/%s/multipart-uploads", accountID, g.vaultName)

	req, err := g.newRequest(ctx, http.MethodPost, path, nil, 0)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-amz-archive-description", fmt.Sprintf("ltsu upload %s", name))
	req.Header.Set("x-amz-part-size", strconv.FormatInt(partSize, 10))

	resp, err := g.do(req, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", errors.WithStack(statusErrorFrom(resp))
	}

	uploadID := resp.Header.Get("x-amz-multipart-upload-id")
	if uploadID == "" {
		return "", errors.WithStack(newError(ErrorCodeDecodingResponse, errors.New("missing x-amz-multipart-upload-id header")))
	}

	return uploadID, nil
}

// UploadPart streams a part's bytes to Glacier, computing the tree and
// linear hash in the same pass the checksum is derived from (first factory
// call), then re-opening the range as the request body (second factory
// call). The server-echoed tree hash is verified against the locally
// computed one; a mismatch is fatal for this attempt, signalling in-flight
// corruption, and surfaces as a retryable Error.
func (g *Glacier) UploadPart(ctx context.Context, uploadID string, p part.Part, newStream backend.StreamFactory) ([]byte, error) {
	hashStream, err := newStream()
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	tree, linear, err := treehash.HashReader(hashStream)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}

	body, err := newStream()
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}

	path := fmt.Sprintf("/%s/vaults/%s/multipart-uploads/%s", accountID, g.vaultName, uploadID)

	req, err := g.newRequest(ctx, http.MethodPut, path, body, p.Size())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", p.Start, p.End))
	req.Header.Set("x-amz-sha256-tree-hash", hex.EncodeToString(tree))
	req.Header.Set("x-amz-content-sha256", hex.EncodeToString(linear))

	resp, err := g.do(req, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return nil, errors.WithStack(statusErrorFrom(resp))
	}

	remoteTree := resp.Header.Get("x-amz-sha256-tree-hash")
	if remoteTree != hex.EncodeToString(tree) {
		g.logger.Warnf("glacier: part %d local tree hash %s differs from remote %s", p.Index, hex.EncodeToString(tree), remoteTree)
		return nil, errors.WithStack(newError(ErrorCodeChecksumMismatch, fmt.Errorf("part %d", p.Index)))
	}

	return tree, nil
}

// Complete finalises the upload with the composed archive tree hash.
func (g *Glacier) Complete(ctx context.Context, uploadID string, size int64, partHashes [][]byte) error {
	root := treehash.Compose(partHashes)

	path := fmt.Sprintf("/%s/vaults/%s/multipart-uploads/%s", accountID, g.vaultName, uploadID)

	req, err := g.newRequest(ctx, http.MethodPost, path, nil, 0)
	if err != nil {
		return err
	}
	req.Header.Set("x-amz-archive-size", strconv.FormatInt(size, 10))
	req.Header.Set("x-amz-sha256-tree-hash", hex.EncodeToString(root))

	resp, err := g.do(req, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return errors.WithStack(statusErrorFrom(resp))
	}

	g.logger.Infof("glacier: upload %s completed, archive id %s", uploadID, resp.Header.Get("x-amz-archive-id"))
	return nil
}

func (g *Glacier) newRequest(ctx context.Context, method, path string, body io.ReadSeeker, contentLength int64) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = body
	}

	req, err := http.NewRequestWithContext(ctx, method, g.endpoint+path, bodyReader)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	req.Header.Set("x-amz-glacier-version", apiVersion)
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	return req, nil
}

func (g *Glacier) do(req *http.Request, body io.ReadSeeker) (*http.Response, error) {
	if _, err := g.signer.Sign(req, body, service, g.region, time.Now()); err != nil {
		return nil, errors.WithStack(newError(ErrorCodeSigning, err))
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	return resp, nil
}

func statusErrorFrom(resp *http.Response) *Error {
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	return newStatusError(resp.StatusCode, string(buf[:n]))
}
