package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Generation task types handled by the Gemini generator.
const (
	TaskLawsuit       = "lawsuit"
	TaskDefense       = "defense"
	TaskLegalAnalysis = "legal_analysis"
)

// DefaultPrompts are the instructions prepended to the extracted text per task type.
var DefaultPrompts = map[string]string{
	TaskLawsuit:       "请根据以下材料生成一份完整的诉讼书:",
	TaskDefense:       "请根据以下材料生成一份完整的应诉书:",
	TaskLegalAnalysis: "请分析以下法律文件并生成相应的法律文书:",
}

const defaultSystemInstruction = "你是一位专业的法律顾问，擅长起草法律文书。"

var errNoCandidates = errors.New("model returned no candidates")

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the generator.
type GeminiConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Prompts           map[string]string
}

// GeminiGenerator produces documents from extracted text with the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	model   contentGenerator
	prompts map[string]string
	logger  *zap.Logger
}

// NewGeminiGenerator creates the API client. The caller owns Close.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = defaultGeminiModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(4000)
	instruction := cfg.SystemInstruction
	if instruction == "" {
		instruction = defaultSystemInstruction
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}

	g := newGeminiGenerator(model, cfg.Prompts, logger)
	g.client = client
	return g, nil
}

func newGeminiGenerator(model contentGenerator, prompts map[string]string, logger *zap.Logger) *GeminiGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	merged := make(map[string]string, len(DefaultPrompts))
	for k, v := range DefaultPrompts {
		merged[k] = v
	}
	for k, v := range prompts {
		merged[k] = v
	}
	return &GeminiGenerator{model: model, prompts: merged, logger: logger}
}

// TaskTypes returns the task types this generator has prompts for.
func (g *GeminiGenerator) TaskTypes() []string {
	types := make([]string, 0, len(g.prompts))
	for t := range g.prompts {
		types = append(types, t)
	}
	return types
}

// RegisterInto adds one transform per prompt to the registry.
func (g *GeminiGenerator) RegisterInto(r *Registry) {
	for taskType := range g.prompts {
		taskType := taskType
		r.Register(taskType, func(ctx context.Context, text string) (string, error) {
			return g.Generate(ctx, taskType, text)
		})
	}
}

// Generate asks the model for the document of taskType based on text.
func (g *GeminiGenerator) Generate(ctx context.Context, taskType, text string) (string, error) {
	prompt, ok := g.prompts[taskType]
	if !ok {
		return "", fmt.Errorf("no prompt for task type %q", taskType)
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt+"\n\n"+text))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errNoCandidates
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	g.logger.Debug("gemini generation finished",
		zap.String("task_type", taskType),
		zap.Int("chars", sb.Len()),
	)
	return sb.String(), nil
}

// Close releases the API client.
func (g *GeminiGenerator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
