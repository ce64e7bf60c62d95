// Package b2 implements the Backend Capability (C3) against Backblaze B2's
// large-file REST API. Unlike Glacier, B2 has no widely-used Go SDK in the
// example pack (only rclone's internal REST client, which isn't a
// standalone importable dependency), so this backend talks the documented
// JSON/HTTP protocol directly, the way rclone's own b2 backend does
// (backend/b2/upload.go): authorize → start large file → per-part upload
// URL → per-part SHA-1 → finish.
package b2

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/log"
	"github.com/wilsonzlin/ltsu/internal/part"
	"golang.org/x/sync/singleflight"
)

const (
	minPartSize int64 = 5 << 20   // 5 MiB
	maxPartSize int64 = 5 << 30   // 5 GiB
	maxParts          = 10000
	minParts          = 2 // B2 requires large files to have at least 2 parts
)

// authorizeAccountURL is a var rather than a const so tests can point it at
// an httptest.Server instead of the real B2 host.
var authorizeAccountURL = "https://api.backblazeb2.com/b2api/v2/b2_authorize_account"

// Options configures a B2 backend instance.
type Options struct {
	AccountID      string
	ApplicationKey string
	BucketID       string

	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

type authInfo struct {
	Token               string
	APIURL              string
	RecommendedPartSize int64
}

// B2 implements backend.Backend against the Backblaze B2 large-file API.
// Its authorization token is renewable; concurrent renewal requests coalesce
// via singleflight so only the first caller performs the request (§4.5, §9).
type B2 struct {
	logger         log.Logger
	accountID      string
	applicationKey string
	bucketID       string
	httpClient     *http.Client

	mu   sync.RWMutex
	auth authInfo

	renew singleflight.Group
}

// New authorizes against B2 and returns a ready backend.
func New(ctx context.Context, logger log.Logger, opts Options) (*B2, error) {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	b := &B2{
		logger:         logger,
		accountID:      opts.AccountID,
		applicationKey: opts.ApplicationKey,
		bucketID:       opts.BucketID,
		httpClient:     httpClient,
	}

	if _, err := b.renewAuth(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *B2) currentAuth() authInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.auth
}

// renewAuth performs b2_authorize_account, coalescing concurrent callers so
// only one request is in flight at a time; everyone shares its outcome.
func (b *B2) renewAuth(ctx context.Context) (authInfo, error) {
	v, err, _ := b.renew.Do("authorize", func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeAccountURL, nil)
		if err != nil {
			return authInfo{}, errors.WithStack(newError(ErrorCodeTransport, err))
		}
		req.SetBasicAuth(b.accountID, b.applicationKey)

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return authInfo{}, errors.WithStack(newError(ErrorCodeTransport, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return authInfo{}, errors.WithStack(statusErrorFrom(resp))
		}

		var out struct {
			AuthorizationToken  string `json:"authorizationToken"`
			APIURL              string `json:"apiUrl"`
			RecommendedPartSize int64  `json:"recommendedPartSize"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return authInfo{}, errors.WithStack(newError(ErrorCodeDecodingResponse, err))
		}

		info := authInfo{Token: out.AuthorizationToken, APIURL: out.APIURL, RecommendedPartSize: out.RecommendedPartSize}

		b.mu.Lock()
		b.auth = info
		b.mu.Unlock()

		return info, nil
	})
	if err != nil {
		return authInfo{}, err
	}
	return v.(authInfo), nil
}

// Limits returns B2's structural constraints on a large file upload.
func (b *B2) Limits() backend.Limits {
	return backend.Limits{
		MinParts:    minParts,
		MaxParts:    maxParts,
		MinPartSize: minPartSize,
		MaxPartSize: maxPartSize,
	}
}

// IdealPartSize prefers the server-recommended part size, falling back to
// the smallest size that keeps the part count within limits (§4.5).
func (b *B2) IdealPartSize(ctx context.Context, size int64) (int64, error) {
	recommended := b.currentAuth().RecommendedPartSize
	if recommended <= 0 {
		recommended = minPartSize
	}

	if ceilDiv(size, recommended) <= maxParts {
		return recommended, nil
	}
	return ceilDiv(size, maxParts), nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 1
	}
	n := a / b
	if a%b != 0 {
		n++
	}
	return n
}

// Initiate starts a new large file upload and returns the b2-assigned file
// id.
func (b *B2) Initiate(ctx context.Context, name string, partSize int64) (string, error) {
	var out struct {
		FileID string `json:"fileId"`
	}

	err := b.call(ctx, "b2_start_large_file", map[string]interface{}{
		"bucketId":    b.bucketID,
		"fileName":    name,
		"contentType": "application/octet-stream",
	}, &out)
	if err != nil {
		return "", err
	}

	return out.FileID, nil
}

// UploadPart fetches a per-attempt upload URL, hashes the range with SHA-1,
// then streams it as the request body.
func (b *B2) UploadPart(ctx context.Context, fileID string, p part.Part, newStream backend.StreamFactory) ([]byte, error) {
	uploadURL, uploadToken, err := b.getUploadPartURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	hashStream, err := newStream()
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	h := sha1.New()
	if _, err := io.Copy(h, hashStream); err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	sum := h.Sum(nil)

	body, err := newStream()
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	req.Header.Set("Authorization", uploadToken)
	req.Header.Set("X-Bz-Part-Number", strconv.Itoa(p.Index+1))
	req.Header.Set("Content-Length", strconv.FormatInt(p.Size(), 10))
	req.Header.Set("X-Bz-Content-Sha1", hex.EncodeToString(sum))
	req.ContentLength = p.Size()

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(newError(ErrorCodeTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(statusErrorFrom(resp))
	}

	return sum, nil
}

// getUploadPartURL fetches a fresh per-attempt upload URL/token. A 401
// triggers a single coalesced auth renewal; the current attempt still fails
// so the scheduler retries with the refreshed token (§4.5).
func (b *B2) getUploadPartURL(ctx context.Context, fileID string) (url, token string, err error) {
	var out struct {
		UploadURL          string `json:"uploadUrl"`
		AuthorizationToken string `json:"authorizationToken"`
	}

	callErr := b.call(ctx, "b2_get_upload_part_url", map[string]interface{}{
		"fileId": fileID,
	}, &out)
	if callErr != nil {
		if berr, ok := errors.Cause(callErr).(*Error); ok && berr.Unauthorized() {
			b.logger.Warnf("b2: get-upload-part-url unauthorized, renewing account auth")
			b.renewAuth(ctx)
		}
		return "", "", callErr
	}

	return out.UploadURL, out.AuthorizationToken, nil
}

// Complete finalises the large file with the ordered vector of per-part
// SHA-1 hashes.
func (b *B2) Complete(ctx context.Context, fileID string, size int64, partHashes [][]byte) error {
	shas := make([]string, len(partHashes))
	for i, h := range partHashes {
		shas[i] = hex.EncodeToString(h)
	}

	return b.call(ctx, "b2_finish_large_file", map[string]interface{}{
		"fileId":        fileID,
		"partSha1Array": shas,
	}, nil)
}

// call issues an authenticated POST to apiUrl+"/b2api/v2/"+op with a JSON
// body, decoding the JSON response into out (if non-nil).
func (b *B2) call(ctx context.Context, op string, reqBody interface{}, out interface{}) error {
	auth := b.currentAuth()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.WithStack(newError(ErrorCodeTransport, err))
	}

	url := fmt.Sprintf("%s/b2api/v2/%s", auth.APIURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.WithStack(newError(ErrorCodeTransport, err))
	}
	req.Header.Set("Authorization", auth.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(newError(ErrorCodeTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.WithStack(statusErrorFrom(resp))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WithStack(newError(ErrorCodeDecodingResponse, err))
	}

	return nil
}

func statusErrorFrom(resp *http.Response) *Error {
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	return newStatusError(resp.StatusCode, string(buf[:n]))
}
