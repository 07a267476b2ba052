// Package api talks to the recording service over HTTP: usage quota,
// recording init and save, share links.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"livescribe/encoder"
	"livescribe/log"
	"livescribe/quota"
)

const DefaultShareExpiryHours = 168

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential, e.g. from LIVESCRIBE_TOKEN.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrUnauthorized
	}
	return string(t), nil
}

// Segment is a final transcript segment as stored by the service.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type Usage struct {
	Tier             string `json:"tier"`
	UsedSeconds      int    `json:"used_seconds"`
	LimitSeconds     int    `json:"limit_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (u Usage) Quota() quota.Quota {
	return quota.Quota{
		Tier:             quota.ParseTier(u.Tier),
		LimitSeconds:     u.LimitSeconds,
		UsedSeconds:      u.UsedSeconds,
		RemainingSeconds: u.RemainingSeconds,
	}
}

type SaveRequest struct {
	ID          string
	Title       string
	Duration    time.Duration
	Audio       []byte
	AudioFormat encoder.Format
	Segments    []Segment
}

type SharedRecording struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Duration   float64   `json:"duration"`
	Transcript []Segment `json:"transcript"`
	AudioURL   string    `json:"audio_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Options struct {
	BaseURL          string
	Tokens           TokenSource
	Timeout          time.Duration
	ShareURLTemplate string // {token} is replaced
}

type Client struct {
	baseURL  string
	tokens   TokenSource
	http     *tracedClient
	template string
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		tokens:   tokens,
		http:     newTracedClient(timeout),
		template: opts.ShareURLTemplate,
	}
}

// Authenticate resolves a credential and fetches the caller's usage; it
// is the identity check performed before a session may start.
func (c *Client) Authenticate(ctx context.Context) (Usage, error) {
	return c.Usage(ctx)
}

func (c *Client) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	if err := c.doJSON(ctx, "usage", http.MethodGet, "/api/usage", nil, "", &u); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Init upserts a recording row with no audio. Safe to repeat.
func (c *Client) Init(ctx context.Context, id, title string) (string, error) {
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		if err := w.WriteField("id", id); err != nil {
			return err
		}
		return w.WriteField("title", title)
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, "init", http.MethodPost, "/api/recordings/init", body, contentType, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.ID, nil
}

// Save uploads the finished recording. The returned id is authoritative.
func (c *Client) Save(ctx context.Context, r SaveRequest) (string, error) {
	transcript, err := json.Marshal(nonNil(r.Segments))
	if err != nil {
		return "", err
	}
	format := r.AudioFormat
	if format == "" {
		format = encoder.FormatWAV
	}
	body, contentType, err := multipartBody(func(w *multipart.Writer) error {
		fields := [][2]string{
			{"id", r.ID},
			{"title", r.Title},
			{"duration", strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64)},
			{"transcript", string(transcript)},
		}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return err
			}
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="recording%s"`, format.Ext()))
		h.Set("Content-Type", format.ContentType())
		part, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		_, err = part.Write(r.Audio)
		return err
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, "save", http.MethodPost, "/api/recordings", body, contentType, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		resp.ID = r.ID
	}
	return resp.ID, nil
}

// Share creates a share token for a recording the service already knows.
func (c *Client) Share(ctx context.Context, id string, expiryHours int) (string, error) {
	if expiryHours <= 0 {
		expiryHours = DefaultShareExpiryHours
	}
	payload, err := json.Marshal(map[string]int{"expires_in_hours": expiryHours})
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	path := "/api/recordings/" + url.PathEscape(id) + "/share"
	if err := c.doJSON(ctx, "share", http.MethodPost, path, bytes.NewReader(payload), "application/json", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("share: empty token in response")
	}
	return resp.Token, nil
}

// Shared fetches a recording by share token. A missing link matches
// ErrNotFound and an expired one ErrExpired.
func (c *Client) Shared(ctx context.Context, token string) (SharedRecording, error) {
	var rec SharedRecording
	err := c.doJSON(ctx, "shared", http.MethodGet, "/api/share/"+url.PathEscape(token), nil, "", &rec)
	return rec, err
}

// ShareURL composes the public link for token.
func (c *Client) ShareURL(token string) string {
	return strings.ReplaceAll(c.template, "{token}", url.PathEscape(token))
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.do(req)
	if err != nil {
		return &TransportError{Op: op, URL: endpoint, Err: err}
	}
	tm := resp.timing
	log.Debugf("api %s: status=%d total=%dms wait=%dms overhead=%dms reused=%v",
		op, resp.status, tm.Total.Milliseconds(), tm.Wait.Milliseconds(), tm.Overhead().Milliseconds(), tm.Reused)

	if resp.status < 200 || resp.status > 299 {
		return &APIError{Op: op, StatusCode: resp.status, Body: string(resp.body)}
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func multipartBody(fill func(w *multipart.Writer) error) (io.Reader, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := fill(w); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &body, w.FormDataContentType(), nil
}

func nonNil(s []Segment) []Segment {
	if s == nil {
		return []Segment{}
	}
	return s
}
