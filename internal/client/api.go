package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/httpx"
	"github.com/yungbote/branchchat-backend/internal/pkg/pointers"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime"
	"github.com/yungbote/branchchat-backend/internal/realtime/bus"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxReadRetries        = 2
	retryBase             = 200 * time.Millisecond
	retryMax              = 2 * time.Second
)

// API talks to the branchchat HTTP surface.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

func NewAPI(baseURL, token string, httpClient *http.Client, log *logger.Logger) *API {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &API{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		log:        log.With("client", "API"),
	}
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// statusError maps an HTTP status onto the error taxonomy.
func statusError(status int, body []byte) error {
	var eb apiErrorBody
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	switch {
	case status == http.StatusBadRequest:
		return apperrors.Validation("%s", msg)
	case status == http.StatusConflict:
		return apperrors.Conflict("%s", msg)
	case status == http.StatusNotFound:
		return apperrors.NotFound("%s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, msg)
	case status >= 500 || status == http.StatusTooManyRequests:
		return apperrors.Transient(fmt.Errorf("status %d", status), "%s", msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}

func (a *API) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	// Only reads are retried; a replayed write could apply twice.
	attempts := 1
	if method == http.MethodGet {
		attempts = 1 + maxReadRetries
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := httpx.Sleep(ctx, httpx.Backoff(attempt-1, retryBase, retryMax)); err != nil {
				return lastErr
			}
		}
		retry, wait, err := a.once(ctx, method, path, in, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		if wait > 0 {
			if err := httpx.Sleep(ctx, wait); err != nil {
				return lastErr
			}
		}
		a.log.Debug("retrying request", "method", method, "path", path, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

// once performs one round trip. retry reports whether another attempt may succeed and wait is an
// extra delay the server asked for.
func (a *API) once(ctx context.Context, method, path string, in, out any) (retry bool, wait time.Duration, err error) {
	req, err := a.newRequest(ctx, method, path, in)
	if err != nil {
		return false, 0, err
	}
	a.log.Debug("HTTP request", "method", method, "path", path)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, 0, err
		}
		return httpx.IsRetryableError(err) && ctx.Err() == nil, 0, apperrors.Transient(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, 0, apperrors.Transient(err, "read %s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			wait = httpx.RetryAfter(resp, 0, retryMax)
			return true, wait, statusError(resp.StatusCode, body)
		}
		return false, 0, statusError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return false, 0, nil
	}
	return false, 0, json.Unmarshal(body, out)
}

type ChatView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	SpeakerIDs []string    `json:"speaker_ids"`
	UpdatedAt  time.Time   `json:"updated_at"`
	RootID     string      `json:"root_id"`
	TailID     string      `json:"tail_id"`
	ActivePath []string    `json:"active_path"`
	Nodes      []tree.Node `json:"nodes"`
}

type ChatSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *API) GetChat(ctx context.Context, chatID string) (*ChatView, error) {
	var out struct {
		Chat ChatView `json:"chat"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Chat, nil
}

func (a *API) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var out struct {
		Chats []ChatSummary `json:"chats"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (a *API) CreateChat(ctx context.Context, name string, speakerIDs []string) (ChatSummary, error) {
	if speakerIDs == nil {
		speakerIDs = []string{}
	}
	var out struct {
		Chat ChatSummary `json:"chat"`
	}
	in := map[string]any{"name": name, "speaker_ids": speakerIDs}
	if err := a.do(ctx, http.MethodPost, "/api/chats", in, &out); err != nil {
		return ChatSummary{}, err
	}
	return out.Chat, nil
}

// Speakers implements stream.SpeakerDirectory.
func (a *API) Speakers(ctx context.Context) ([]stream.Speaker, error) {
	var out struct {
		Speakers []stream.Speaker `json:"speakers"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/speakers", nil, &out); err != nil {
		return nil, err
	}
	return out.Speakers, nil
}

// Chat scopes the message calls to one chat.
func (a *API) Chat(chatID string) *ChatClient {
	return &ChatClient{api: a, chatID: chatID}
}

// ChatClient implements stream.Remote for one chat.
type ChatClient struct {
	api    *API
	chatID string
}

func (c *ChatClient) path(suffix string) string {
	return "/api/chats/" + url.PathEscape(c.chatID) + suffix
}

type createNodeReq struct {
	ParentID  *string    `json:"parent_id,omitempty"`
	Content   string     `json:"content"`
	SpeakerID string     `json:"speaker_id"`
	IsBot     bool       `json:"is_bot"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ClientID  *string    `json:"client_id,omitempty"`
}

func (c *ChatClient) CreateMessage(ctx context.Context, req stream.CreateRequest) (stream.CreateResult, error) {
	in := createNodeReq{
		ParentID:  pointers.NonZero(req.ParentID),
		Content:   req.Content,
		SpeakerID: req.SpeakerID,
		IsBot:     req.IsBot,
		ClientID:  pointers.NonZero(req.ClientID),
	}
	if !req.CreatedAt.IsZero() {
		in.CreatedAt = pointers.Ptr(req.CreatedAt)
	}
	var out struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.api.do(ctx, http.MethodPost, c.path("/nodes"), in, &out); err != nil {
		return stream.CreateResult{}, err
	}
	return stream.CreateResult{ID: out.ID, CreatedAt: out.CreatedAt}, nil
}

func (c *ChatClient) EditMessage(ctx context.Context, nodeID, content string) error {
	return c.api.do(ctx, http.MethodPatch, c.path("/nodes/"+url.PathEscape(nodeID)), map[string]string{"content": content}, nil)
}

func (c *ChatClient) DeleteMessage(ctx context.Context, nodeID string) error {
	return c.api.do(ctx, http.MethodDelete, c.path("/nodes/"+url.PathEscape(nodeID)), nil, nil)
}

func (c *ChatClient) SwitchBranch(ctx context.Context, leafID string) error {
	return c.api.do(ctx, http.MethodPost, c.path("/switch"), map[string]string{"target_leaf_id": leafID}, nil)
}

// Speakers delegates to the API so a ChatClient also serves as stream.SpeakerDirectory.
func (c *ChatClient) Speakers(ctx context.Context) ([]stream.Speaker, error) {
	return c.api.Speakers(ctx)
}

// Events reads the chat's SSE stream and calls fn for each message until ctx ends or the
// server closes the stream.
func (c *ChatClient) Events(ctx context.Context, fn func(realtime.SSEMessage)) error {
	req, err := c.api.newRequest(ctx, http.MethodGet, c.path("/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.api.httpClient.Do(req)
	if err != nil {
		return apperrors.Transient(err, "open events")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		msg, err := bus.DecodeMessage([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			c.api.log.Debug("skipping malformed event", "error", err)
			continue
		}
		fn(msg)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return apperrors.Transient(err, "read events")
	}
	return ctx.Err()
}
