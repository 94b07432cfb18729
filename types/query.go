package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type AskParams struct {
	Question       string     `json:"question" validate:"required,max=8000"`
	History        []Turn     `json:"history" validate:"max=100"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

type CreateConversationParams struct {
	Message    string `json:"message" validate:"required"`
	Title      string `json:"title" validate:"max=255"`
	AIResponse string `json:"ai_response"`
}

type AddMessagesParams struct {
	UserMessage string `json:"user_message" validate:"required"`
	AIResponse  string `json:"ai_response" validate:"required"`
}

type RenameParams struct {
	Title string `json:"title" validate:"required,max=255"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *AskParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *CreateConversationParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *AddMessagesParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *RenameParams) Validate() map[string]string {
	return validateStruct(params)
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

// UnmarshalJSON принимает реплику в виде пары ["user", "текст"]
func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("history turn must be a [role, text] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("history turn must have 2 elements, got %d", len(pair))
	}
	t.Role, t.Text = pair[0], pair[1]
	return nil
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Role, t.Text})
}

type UploadedFile struct {
	Filename string    `json:"filename"`
	ID       uuid.UUID `json:"id"`
	Chunks   int       `json:"chunks"`
}

type UploadResponse struct {
	Success bool           `json:"success"`
	Files   []UploadedFile `json:"files"`
}

type DocumentItem struct {
	Filename string    `json:"filename"`
	ID       uuid.UUID `json:"id"`
}

type DocumentsResponse struct {
	Files []DocumentItem `json:"files"`
}

type RebuildResponse struct {
	Documents int         `json:"documents"`
	Chunks    int         `json:"chunks"`
	NoOp      bool        `json:"noop"`
	Results   []DocResult `json:"results"`
	Timestamp time.Time   `json:"timestamp"`
}

type DocStatus string

const (
	DocIndexed DocStatus = "indexed"
	DocSkipped DocStatus = "skipped"
	DocFailed  DocStatus = "failed"
)

// DocResult итог переиндексации одного документа
type DocResult struct {
	DocID    uuid.UUID `json:"doc_id"`
	Filename string    `json:"filename"`
	Status   DocStatus `json:"status"`
	Chunks   int       `json:"chunks"`
	Reason   string    `json:"reason,omitempty"`
}
