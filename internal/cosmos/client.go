package cosmos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nat-bishop/cosmos-houdini-pipeline-sub001/internal/infra"
)

// CompletionMarker is the sentinel the remote wrapper writes as the last
// log line. The inner exit code follows it, e.g.
// "[COSMOS_COMPLETE] exit_code=0". It is authoritative over the container
// exit code, which only reflects the wrapper process.
const CompletionMarker = "[COSMOS_COMPLETE]"

// Options controls how the Cosmos client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the Cosmos inference host over HTTP. When no base URL is
// configured the client serves deterministic synthetic results instead, so
// the queue and worker stay fully operational in local and CI environments.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient builds a Client from opts, applying defaults.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: hc,
		logger:     opts.Logger,
	}
}

func (c *Client) offline() bool {
	return c.baseURL == ""
}

// QuickInference runs a single-prompt generation synchronously.
func (c *Client) QuickInference(ctx context.Context, req QuickInferenceRequest) (*InferenceResult, error) {
	if c.offline() {
		return &InferenceResult{
			Status:          "completed",
			OutputPath:      fmt.Sprintf("outputs/%s/video.mp4", req.PromptID),
			DurationSeconds: 1,
		}, nil
	}
	var out InferenceResult
	if err := c.post(ctx, "/inference/quick", map[string]any{
		"prompt_id":       req.PromptID,
		"weights":         req.Weights,
		"steps":           req.Steps,
		"guidance":        req.Guidance,
		"seed":            req.Seed,
		"fps":             req.FPS,
		"sigma_max":       req.SigmaMax,
		"blur_strength":   req.BlurStrength,
		"canny_threshold": req.CannyThreshold,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchInference runs a multi-prompt generation synchronously.
func (c *Client) BatchInference(ctx context.Context, req BatchInferenceRequest) (*BatchResult, error) {
	if c.offline() {
		mapping := make(map[string]string, len(req.PromptIDs))
		for _, id := range req.PromptIDs {
			mapping[id] = fmt.Sprintf("outputs/%s/video.mp4", id)
		}
		return &BatchResult{Status: "completed", OutputMapping: mapping}, nil
	}
	var out BatchResult
	if err := c.post(ctx, "/inference/batch", map[string]any{
		"prompt_ids":   req.PromptIDs,
		"weights_list": req.WeightsList,
		"steps":        req.Steps,
		"guidance":     req.Guidance,
		"seed":         req.Seed,
		"batch_size":   req.BatchSize,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnhancePrompt rewrites a prompt with the upsampler model. The offline
// fallback title-cases and pads the source text deterministically.
func (c *Client) EnhancePrompt(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if c.offline() {
		title := cases.Title(language.Und).String(req.PromptText)
		return &EnhanceResult{
			Status:           "completed",
			EnhancedPromptID: req.PromptID,
			EnhancedText:     fmt.Sprintf("%s, cinematic lighting, high detail", title),
			RunID:            "rs_enhance_" + req.PromptID,
		}, nil
	}
	var out EnhanceResult
	if err := c.post(ctx, "/enhance", map[string]any{
		"prompt_id":       req.PromptID,
		"prompt_text":     req.PromptText,
		"create_new":      req.CreateNew,
		"model":           req.Model,
		"force_overwrite": req.ForceOverwrite,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upscale runs 4K upscaling over a run's output or a raw video path.
func (c *Client) Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error) {
	if c.offline() {
		source := req.RunID
		if source == "" {
			source = req.VideoPath
		}
		return &UpscaleResult{
			Status:     "completed",
			OutputPath: fmt.Sprintf("outputs/upscaled/%s.mp4", sanitizeSegment(source)),
			RunID:      req.RunID,
		}, nil
	}
	var out UpscaleResult
	if err := c.post(ctx, "/upscale", map[string]any{
		"run_id":         req.RunID,
		"video_path":     req.VideoPath,
		"control_weight": req.ControlWeight,
		"prompt":         req.Prompt,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActiveContainers lists execution containers currently running on the
// GPU host. Offline mode reports none, so claims are always admitted.
func (c *Client) GetActiveContainers(ctx context.Context) ([]Container, error) {
	if c.offline() {
		return nil, nil
	}
	var out struct {
		Containers []Container `json:"containers"`
	}
	if err := c.get(ctx, "/containers", nil, &out); err != nil {
		return nil, err
	}
	return out.Containers, nil
}

// ContainerState probes a single container by name.
func (c *Client) ContainerState(ctx context.Context, name string) (*ContainerState, error) {
	if c.offline() {
		return &ContainerState{Running: false, ExitCode: 0}, nil
	}
	var out ContainerState
	if err := c.get(ctx, "/containers/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadCompletionMarker fetches the tail of the remote log and scans it for
// the completion sentinel.
func (c *Client) ReadCompletionMarker(ctx context.Context, logPath string) (int, bool, error) {
	if c.offline() {
		return 0, true, nil
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := c.get(ctx, "/logs", url.Values{"path": {logPath}}, &out); err != nil {
		return 0, false, err
	}
	code, found := ParseCompletionMarker(out.Text)
	return code, found, nil
}

// DownloadOutputs fetches the run's output artifacts keyed by file name.
func (c *Client) DownloadOutputs(ctx context.Context, runID string) (map[string][]byte, error) {
	if c.offline() {
		return map[string][]byte{"video.mp4": []byte{}}, nil
	}
	var listing struct {
		Files []string `json:"files"`
	}
	if err := c.get(ctx, "/runs/"+url.PathEscape(runID)+"/outputs", nil, &listing); err != nil {
		return nil, err
	}
	files := make(map[string][]byte, len(listing.Files))
	for _, name := range listing.Files {
		data, err := c.getRaw(ctx, "/runs/"+url.PathEscape(runID)+"/outputs/"+url.PathEscape(name))
		if err != nil {
			return nil, err
		}
		files[name] = data
	}
	return files, nil
}

// ParseCompletionMarker scans log text for the completion sentinel and
// extracts the exit code that follows it. The last marker wins.
func ParseCompletionMarker(text string) (int, bool) {
	exitCode := 0
	found := false
	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, CompletionMarker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len(CompletionMarker):])
		const prefix = "exit_code="
		if !strings.HasPrefix(rest, prefix) {
			continue
		}
		code, err := strconv.Atoi(strings.Fields(rest[len(prefix):])[0])
		if err != nil {
			continue
		}
		exitCode = code
		found = true
	}
	return exitCode, found
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cosmos: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cosmos: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("cosmos: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("cosmos: build request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("cosmos: %s: %w", req.URL.Path, err)
		c.logFailure(req.URL.Path, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("cosmos: %s: unexpected status %d", req.URL.Path, resp.StatusCode)
		c.logFailure(req.URL.Path, err)
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("cosmos: %s: %w", req.URL.Path, err)
		c.logFailure(req.URL.Path, err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("cosmos: %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		c.logFailure(req.URL.Path, err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cosmos: decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) logFailure(path string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn().Err(err).Str("path", path).Msg("cosmos: request failed")
}

func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	return strings.ReplaceAll(s, "\\", "_")
}

var _ Backend = (*Client)(nil)
