package services

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"market-research-tracker/internal/logging"
)

// ValidationRejectionMessage is the user-facing message for any rejected input
const ValidationRejectionMessage = "Please adjust your inputs to be focused on a specific industry."

// InputValidator screens form inputs through Parallel's OpenAI-compatible
// chat endpoint before a task run is paid for. It fails open: any API or
// parsing failure admits the input, since validation is a guard rail, not a
// gate the product can stall on.
type InputValidator struct {
	client *openai.Client
}

// NewInputValidator builds a validator against the Parallel chat endpoint
func NewInputValidator(apiKey, baseURL string) *InputValidator {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &InputValidator{client: openai.NewClientWithConfig(cfg)}
}

// ValidationOutcome is the decoded model verdict
type ValidationOutcome struct {
	IsValid     bool     `json:"is_valid"`
	Reasoning   string   `json:"reasoning"`
	IssuesFound []string `json:"issues_found"`
}

var validationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"is_valid": {
			"type": "boolean",
			"description": "Whether the inputs pass validation"
		},
		"reasoning": {
			"type": "string",
			"description": "Detailed reasoning for the validation decision"
		},
		"issues_found": {
			"type": "array",
			"items": {"type": "string"},
			"description": "List of specific issues found, if any"
		}
	},
	"required": ["is_valid", "reasoning", "issues_found"]
}`)

const validationPromptTemplate = `You are a content validation system for a market research platform. Analyze the following form inputs and determine if they are acceptable. Note that the only required field is the industry name, geography is optional, and details is optional and details may be empty:

Industry: %s
Geography: %s
Details: %s

Validation criteria:
1. The inputs must NOT contain profanity, offensive language, or dangerous content (weapons, violence, illegal activities)
2. The industry field must represent a real business industry or market segment. REJECT only obvious test strings like:
   - Single words like "test", "hello", "hi", "example"
   - Random character combinations like "ab", "xyz", "asdf"
   - Just numbers like "123", "456"
   - Obvious placeholder text or keyboard mashing

ACCEPT legitimate industry terms including:
   - Technology sectors (AI, VR, SaaS, healthcare tech, fintech, etc.)
   - Traditional industries (manufacturing, retail, healthcare, etc.)
   - Short but valid industry acronyms (AI, VR, IoT, etc.)
   - Emerging industries and market segments
   - Large/open-ended industries that encompass sub-industries
   - Very niche and sub industries

Be reasonably permissive - err on the side of accepting legitimate business queries.

Return your analysis in the specified JSON format.`

// Validate screens the inputs. The returned outcome is the model's verdict;
// on any failure a permissive verdict is returned instead of an error.
func (v *InputValidator) Validate(ctx context.Context, industry, geography, details string) ValidationOutcome {
	log := logging.WithComponent("validation")

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "speed",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(validationPromptTemplate, industry, geography, details),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "validation_schema",
				Schema: validationSchema,
			},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		log.Warn().Err(err).Msg("validation call failed, admitting input")
		return ValidationOutcome{IsValid: true, Reasoning: "validation unavailable"}
	}
	if len(resp.Choices) == 0 {
		log.Warn().Msg("validation response empty, admitting input")
		return ValidationOutcome{IsValid: true, Reasoning: "validation unavailable"}
	}

	var outcome ValidationOutcome
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &outcome); err != nil {
		log.Warn().Err(err).Msg("validation verdict not parseable, admitting input")
		return ValidationOutcome{IsValid: true, Reasoning: "validation unavailable"}
	}
	return outcome
}
