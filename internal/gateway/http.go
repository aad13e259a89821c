package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/netmaker/internal/models"
)

var networkURLs = map[string]string{
	"mainnet": "https://gateway-api.pastel.network",
	"testnet": "https://testnet.gateway-api.pastel.network",
	"devnet":  "https://devnet.gateway-api.pastel.network",
}

// BaseURL returns the public gateway address for a named network.
func BaseURL(network string) (string, error) {
	u, ok := networkURLs[network]
	if !ok {
		return "", fmt.Errorf("gateway: no known address for network %q", network)
	}
	return u, nil
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: api error: status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPClient is a Client for the gateway's REST API.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPClient creates a REST client. A zero timeout means no timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Submit uploads a registration request for kind.
func (c *HTTPClient) Submit(ctx context.Context, kind models.Kind, req SubmitRequest) (*RequestResult, error) {
	var (
		body        io.Reader
		contentType string
		err         error
	)
	if kind == models.KindCollection {
		if req.Collection == nil {
			return nil, fmt.Errorf("gateway: submit collection: missing collection details")
		}
		b, err := json.Marshal(req.Collection)
		if err != nil {
			return nil, fmt.Errorf("gateway: submit collection: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	} else {
		body, contentType, err = multipartBody(kind, req)
		if err != nil {
			return nil, fmt.Errorf("gateway: submit %s: %w", kind, err)
		}
	}

	var out RequestResult
	if err := c.do(ctx, http.MethodPost, "api/v1/"+string(kind), body, contentType, &out); err != nil {
		return nil, fmt.Errorf("gateway: submit %s: %w", kind, err)
	}
	for i := range out.Results {
		out.Results[i].ResultStatus = NormalizeStatus(out.Results[i].ResultStatus)
	}
	return &out, nil
}

// GetResult fetches the current state of one registration. A 404 answer
// yields ErrNoResult.
func (c *HTTPClient) GetResult(ctx context.Context, kind models.Kind, resultID string) (*ResultRegistration, error) {
	endpoint := fmt.Sprintf("api/v1/%s/results/%s", kind, url.PathEscape(resultID))
	var out ResultRegistration
	err := c.do(ctx, http.MethodGet, endpoint, nil, "", &out)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: get %s result %s: %w", kind, resultID, err)
	}
	if out.ResultID == "" && out.ResultStatus == "" {
		return nil, ErrNoResult
	}
	out.ResultStatus = NormalizeStatus(out.ResultStatus)
	return &out, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/"+endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("api_key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// multipartBody builds the upload form for a file-backed kind.
func multipartBody(kind models.Kind, req SubmitRequest) (io.Reader, string, error) {
	if len(req.Files) == 0 {
		return nil, "", fmt.Errorf("no files to upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, path := range req.Files {
		if err := addFile(w, path); err != nil {
			return nil, "", err
		}
	}

	fields := map[string]string{}
	switch kind {
	case models.KindCascade:
		fields["make_publicly_accessible"] = strconv.FormatBool(req.MakePubliclyAccessible)
	case models.KindSense:
		fields["collection_act_txid"] = req.CollectionActTxID
		fields["open_api_group_id"] = req.OpenAPIGroupID
	case models.KindNFT:
		fields["nft_details_payload"] = string(req.NFTDetails)
		fields["make_publicly_accessible"] = strconv.FormatBool(req.MakePubliclyAccessible)
		fields["collection_act_txid"] = req.CollectionActTxID
		fields["open_api_group_id"] = req.OpenAPIGroupID
	default:
		return nil, "", fmt.Errorf("kind %s has no file upload", kind)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
