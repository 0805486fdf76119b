package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client issues the interview backend's REST calls. Each method performs
// exactly one network call and maps the response to a typed result or a typed
// failure. The client holds no session state.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	UploadClient *http.Client
}

// NewClient builds a client for the given backend base URL. Uploads get a
// longer timeout because answer audio can be large on slow links.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		UploadClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// errorEnvelope matches the backend's failure body. Some endpoints use
// "error", others "detail"; either marks the response as failed even when the
// transport status is 2xx.
type errorEnvelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (e errorEnvelope) message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Detail
}

// doJSON posts/gets JSON and decodes the body into out, surfacing non-2xx
// statuses and server-reported error details as errors.
func (c *Client) doJSON(ctx context.Context, client *http.Client, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.message() != "" {
			return fmt.Errorf("status=%d: %s", resp.StatusCode, env.message())
		}
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(raw), 200))
	}
	// Servers may report logical errors with a 200-level status.
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.message() != "" {
		return fmt.Errorf("server error: %s", env.message())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CreateSession starts a new interview session for a curriculum week.
func (c *Client) CreateSession(ctx context.Context, weekNumber int) (SessionInfo, error) {
	var info SessionInfo
	body := map[string]int{"week_number": weekNumber}
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodPost, "/interview/session/create/", body, &info); err != nil {
		return SessionInfo{}, &SessionCreateError{Err: err}
	}
	if info.SessionID == "" {
		return SessionInfo{}, &SessionCreateError{Err: fmt.Errorf("response missing session_id")}
	}
	return info, nil
}

// GetQuestion fetches the question at a 0-based index.
func (c *Client) GetQuestion(ctx context.Context, sessionID string, index int) (Question, error) {
	var q Question
	path := fmt.Sprintf("/interview/session/%s/question/%d/", sessionID, index)
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodGet, path, nil, &q); err != nil {
		return Question{}, &QuestionFetchError{Index: index, Err: err}
	}
	return q, nil
}

// SubmitAnswer uploads one recorded answer as a multipart attachment and
// returns the grading plus the next question (if any).
func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, audio []byte, mimeType string) (SubmissionResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "answer"+extensionFor(mimeType))
	if err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}
	if err := mw.Close(); err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}

	path := fmt.Sprintf("/interview/session/%s/audio/", sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.UploadClient.Do(req)
	if err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}
	defer resp.Body.Close()
	var result SubmissionResult
	if err := decodeResponse(resp, &result); err != nil {
		return SubmissionResult{}, &AnswerSubmitError{Err: err}
	}
	return result, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}

// SynthesizeSpeech asks the backend to render text as audio. The result is
// either a fetchable URL or inline base64 bytes.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (SpeechResult, error) {
	var sr SpeechResult
	body := map[string]string{"text": text}
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodPost, "/interview/tts/speak/", body, &sr); err != nil {
		return SpeechResult{}, &SpeechSynthesisError{Err: err}
	}
	if sr.AudioURL == "" && sr.AudioBase64 == "" {
		return SpeechResult{}, &SpeechSynthesisError{Err: fmt.Errorf("response carries no audio")}
	}
	return sr, nil
}

// CompleteSession marks the session finished on the backend.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/interview/session/%s/complete/", sessionID)
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodPost, path, nil, nil); err != nil {
		return &SessionCompleteError{Err: err}
	}
	return nil
}

// GetResults fetches the final results record for a completed session.
func (c *Client) GetResults(ctx context.Context, sessionID string) (Results, error) {
	var r Results
	path := fmt.Sprintf("/interview/session/%s/results/", sessionID)
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodGet, path, nil, &r); err != nil {
		return Results{}, &ResultsFetchError{Err: err}
	}
	return r, nil
}

// CreateRealtimeSession requests avatar room credentials. A backend refusal
// mentioning the concurrency cap is surfaced as *ConcurrencyLimitError so the
// caller can tell "try later" apart from a hard failure.
func (c *Client) CreateRealtimeSession(ctx context.Context, opts RealtimeSessionOptions) (RealtimeSessionInfo, error) {
	var info RealtimeSessionInfo
	err := c.doJSON(ctx, c.HTTPClient, http.MethodPost, "/interview/avatar/session/create/", opts, &info)
	if err != nil {
		if strings.Contains(err.Error(), concurrencyLimitPhrase) {
			return RealtimeSessionInfo{}, &ConcurrencyLimitError{Detail: err.Error()}
		}
		return RealtimeSessionInfo{}, &RealtimeSessionCreateError{Err: err}
	}
	if info.SessionToken == "" || info.RoomURL == "" || info.RoomToken == "" {
		return RealtimeSessionInfo{}, &RealtimeSessionCreateError{Err: fmt.Errorf("response missing connection fields")}
	}
	return info, nil
}

// SendAvatarControlMessage asks the avatar to speak text. Best effort: callers
// must not block interview flow on the result.
func (c *Client) SendAvatarControlMessage(ctx context.Context, sessionToken, text string) error {
	path := fmt.Sprintf("/interview/avatar/%s/speak/", sessionToken)
	body := map[string]string{"text": text}
	return c.doJSON(ctx, c.HTTPClient, http.MethodPost, path, body, nil)
}

// StopRealtimeSession tears down a realtime session on the backend.
func (c *Client) StopRealtimeSession(ctx context.Context, req StopRealtimeRequest) error {
	if err := c.doJSON(ctx, c.HTTPClient, http.MethodPost, "/interview/avatar/session/stop/", req, nil); err != nil {
		return &RealtimeSessionStopError{Err: err}
	}
	return nil
}
