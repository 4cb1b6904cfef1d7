package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

// UploadForm streams a document to the service as multipart field "file".
func (c *Client) UploadForm(ctx context.Context, name, contentType string, r io.Reader) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.resolve("/forms", nil), pr)
	if err != nil {
		pr.Close()
		return nil, wrapError(err, "UploadForm")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		pr.Close()
		return nil, wrapError(err, "UploadForm")
	}
	defer resp.Body.Close()

	var out UploadResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		return nil, wrapError(err, "UploadForm")
	}
	if out.Form.ID == "" {
		return nil, wrapError(fmt.Errorf("response missing form id"), "UploadForm")
	}
	return &out, nil
}

// FormStatus reports whether analysis of a form has finished.
func (c *Client) FormStatus(ctx context.Context, id string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/forms/"+url.PathEscape(id)+"/status", nil, nil, &out); err != nil {
		return nil, wrapError(err, "FormStatus")
	}
	return &out, nil
}

// ListForms returns previously uploaded forms, newest first.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var out []Form
	if err := c.doJSON(ctx, http.MethodGet, "/forms", nil, nil, &out); err != nil {
		return nil, wrapError(err, "ListForms")
	}
	return out, nil
}

// PageImage fetches a rendered page (1-based). When etag is non-empty the
// request is conditional and NotModified reports a cache hit.
func (c *Client) PageImage(ctx context.Context, id string, page int, etag string) (*PageImage, error) {
	path := "/forms/" + url.PathEscape(id) + "/pages/" + strconv.Itoa(page)
	req, err := c.newRequest(ctx, http.MethodGet, c.resolve(path, nil), nil)
	if err != nil {
		return nil, wrapError(err, "PageImage")
	}
	req.Header.Set("Accept", "image/png, image/*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, wrapError(err, "PageImage")
	}
	defer resp.Body.Close()

	out := &PageImage{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("Etag"),
	}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		if out.ETag == "" {
			out.ETag = etag
		}
		return out, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(fmt.Errorf("read response: %w", err), "PageImage")
	}
	out.Data = data
	return out, nil
}

// Search finds occurrences of q in the form.
func (c *Client) Search(ctx context.Context, id, q string) ([]SearchResult, error) {
	var out SearchResponse
	query := url.Values{"q": {q}}
	if err := c.doJSON(ctx, http.MethodGet, "/forms/"+url.PathEscape(id)+"/search", query, nil, &out); err != nil {
		return nil, wrapError(err, "Search")
	}
	return out.Results, nil
}

// GeneratePDF asks the service to render the filled form.
func (c *Client) GeneratePDF(ctx context.Context, formID, sessionID string) (*PDFResponse, error) {
	var out PDFResponse
	payload := map[string]string{"session_id": sessionID}
	if err := c.doJSON(ctx, http.MethodPost, "/forms/"+url.PathEscape(formID)+"/pdf", nil, payload, &out); err != nil {
		return nil, wrapError(err, "GeneratePDF")
	}
	if out.URL == "" {
		return nil, wrapError(fmt.Errorf("response missing url"), "GeneratePDF")
	}
	return &out, nil
}

// Fetch downloads a blob. rawURL may be absolute or relative to the service
// root. The caller closes the returned body.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.resolve(rawURL, nil), nil)
	if err != nil {
		return nil, wrapError(err, "Fetch")
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.do(req)
	if err != nil {
		return nil, wrapError(err, "Fetch")
	}
	return resp.Body, nil
}
