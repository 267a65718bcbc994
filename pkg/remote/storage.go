package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// UploadObject stores r under key in bucket, replacing any existing object,
// and returns the object's public URL.
func (c *Client) UploadObject(ctx context.Context, bucket, key, contentType string, r io.Reader, size int64) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	header := http.Header{"X-Upsert": {"true"}}
	var body io.Reader = r
	if size >= 0 {
		body = io.LimitReader(r, size)
	}
	var resp uploadResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/"),
		token:       token,
		header:      header,
		body:        body,
		contentType: contentType,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", errors.New("provider returned no object url")
	}
	return resp.URL, nil
}
