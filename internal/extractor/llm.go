package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/essaycontest/submitproc/internal/model"
)

// llmFieldResponse mirrors the structured JSON the LLM is prompted to
// return. All fields are optional in the response; a
// missing/null field is honest absence, never fabricated.
type llmFieldResponse struct {
	StudentName      *string `json:"student_name"`
	SchoolName       *string `json:"school_name"`
	Grade            *string `json:"grade"`
	TeacherName      *string `json:"teacher_name"`
	FatherFigureName *string `json:"father_figure_name"`
	Phone            *string `json:"phone"`
	Email            *string `json:"email"`
	CityOrLocation   *string `json:"city_or_location"`
	EssayText        *string `json:"essay_text"`
	DocType          *string `json:"doc_type"`
}

// LLMCapability is the LLM-assisted extraction path. It
// pins temperature=0 at construction and refuses to be built with any
// other value - determinism is enforced at the capability boundary,
// not just by convention.
type LLMCapability struct {
	client *anthropic.Client
	model  string
}

// NewLLMCapability builds the capability. temperature MUST be 0.
func NewLLMCapability(apiKey, modelName string, temperature float64) (*LLMCapability, error) {
	if temperature != 0 {
		return nil, fmt.Errorf("extractor.llm_temperature must be 0, got %v", temperature)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &LLMCapability{client: client, model: modelName}, nil
}

const extractionPromptTemplate = `You are extracting structured metadata from a student's essay-contest submission. The contact block below may contain: student_name, school_name, grade, teacher_name, father_figure_name, phone, email, city_or_location. It may also continue into essay_text.

Do not fabricate any value. If a field is not present in the text, return null for it.

Return ONLY a JSON object with exactly these keys: student_name, school_name, grade, teacher_name, father_figure_name, phone, email, city_or_location, essay_text, doc_type.

Text:
%s`

// Extract submits the contact block to the model at temperature=0 and
// parses the structured JSON response.
func (l *LLMCapability) Extract(ctx context.Context, contactBlock string) (model.ExtractedFields, string, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, contactBlock)

	resp, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.F(anthropic.Model(l.model)),
		MaxTokens:   anthropic.F(int64(2048)),
		Temperature: anthropic.Float(0),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return model.ExtractedFields{}, "", fmt.Errorf("anthropic extraction call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var parsed llmFieldResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return model.ExtractedFields{}, "", fmt.Errorf("failed to parse LLM extraction response: %w", err)
	}

	fields := model.ExtractedFields{
		StudentName:      parsed.StudentName,
		SchoolName:       parsed.SchoolName,
		Grade:            parsed.Grade,
		TeacherName:      parsed.TeacherName,
		FatherFigureName: parsed.FatherFigureName,
		Phone:            parsed.Phone,
		Email:            parsed.Email,
		CityOrLocation:   parsed.CityOrLocation,
		EssayText:        parsed.EssayText,
	}

	docType := ""
	if parsed.DocType != nil {
		docType = *parsed.DocType
	}

	return fields, docType, nil
}
