package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/RichardoC/localchat/internal/config"
)

// ErrIncompleteResponse is returned when the model server ends a response
// before its final message, e.g. a dropped connection mid-stream.
var ErrIncompleteResponse = errors.New("incomplete response from model server")

// Options configures a Service. Zero MaxTokens, KeepAlive and Timeout fall
// back to the model server's own defaults.
type Options struct {
	Provider    string
	BaseURL     string
	Model       string
	Token       string
	KeepAlive   string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Service is the langchaingo-backed Gateway.
type Service struct {
	llm  llms.Model
	opts Options
}

var _ Gateway = (*Service)(nil)

func New(opts Options) (*Service, error) {
	// ollama.WithServerURL exits the process on a bad URL.
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	httpClient := newHTTPClient(opts.Timeout)

	var (
		model llms.Model
		err   error
	)
	switch opts.Provider {
	case "", "ollama":
		ollamaOpts := []ollama.Option{
			ollama.WithModel(opts.Model),
			ollama.WithServerURL(opts.BaseURL),
			ollama.WithHTTPClient(httpClient),
		}
		if opts.KeepAlive != "" {
			ollamaOpts = append(ollamaOpts, ollama.WithKeepAlive(opts.KeepAlive))
		}
		model, err = ollama.New(ollamaOpts...)
	case "openai":
		token := opts.Token
		if token == "" {
			// Ollama's OpenAI-compatible endpoint ignores the token but the
			// client refuses to start without one.
			token = "ollama"
		}
		model, err = openai.New(
			openai.WithToken(token),
			openai.WithBaseURL(openAIBaseURL(opts.BaseURL)),
			openai.WithModel(opts.Model),
			openai.WithHTTPClient(httpClient),
		)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model: %w", opts.Provider, err)
	}
	return &Service{llm: model, opts: opts}, nil
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(model llms.Model, opts Options) *Service {
	return &Service{llm: model, opts: opts}
}

// newHTTPClient bounds connecting and waiting for response headers. Reading
// a streamed body is not bounded, so long generations are not cut off.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		return &http.Client{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

func openAIBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (s *Service) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(s.opts.Temperature)}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.opts.MaxTokens))
	}
	return opts
}

func (s *Service) Stream(ctx context.Context, messages []Message, onFragment func(string) error) error {
	opts := append(s.callOptions(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onFragment(string(chunk))
	}))
	resp, err := s.generate(ctx, toContent(messages), opts...)
	if err != nil {
		return fmt.Errorf("failed to stream completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("failed to stream completion: %w", ErrIncompleteResponse)
	}
	return nil
}

func (s *Service) Invoke(ctx context.Context, messages []Message) (string, error) {
	resp, err := s.generate(ctx, toContent(messages), s.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("failed to generate completion: %w", ErrIncompleteResponse)
	}
	return resp.Choices[0].Content, nil
}

// Ping asks for a single token so that the model gets loaded and any
// connection or model problem surfaces before the first real turn.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.generate(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "ping")},
		llms.WithMaxTokens(1))
	if err != nil {
		return &InitError{Kind: ClassifyInitError(err), Err: err}
	}
	return nil
}

// generate calls the model and turns a panic inside the client into an
// error. The ollama client reports a body that ends before the final message
// as success and then dereferences the missing message.
func (s *Service) generate(ctx context.Context, content []llms.MessageContent, opts ...llms.CallOption) (resp *llms.ContentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrIncompleteResponse, r)
		}
	}()
	resp, err = s.llm.GenerateContent(ctx, content, opts...)
	if err == nil && resp == nil {
		err = ErrIncompleteResponse
	}
	return resp, err
}

func toContent(messages []Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content
}

// OptionsFromSettings maps resolved settings onto gateway options.
func OptionsFromSettings(cfg config.Settings, token string) Options {
	return Options{
		Provider:    cfg.ModelProvider,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.ModelName,
		Token:       token,
		KeepAlive:   cfg.KeepAliveDuration(),
		Timeout:     cfg.RequestTimeout(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}
