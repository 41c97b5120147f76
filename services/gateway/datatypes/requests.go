package datatypes

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// maxMessages caps the conversation length accepted in one request. Long
// histories should be truncated by the caller, not silently here.
const maxMessages = 100

// modelNamePattern matches Ollama-style model references: a name, an
// optional namespace, an optional ":tag" suffix.
var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]*(/[a-zA-Z0-9][a-zA-Z0-9._\-]*)?(:[a-zA-Z0-9._\-]+)?$`)

// RegisterValidations installs the gateway's custom validations on gin's
// binding engine. Call once at startup, before the router handles traffic.
func RegisterValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("modelname", func(fl validator.FieldLevel) bool {
			return modelNamePattern.MatchString(fl.Field().String())
		})
	}
}

// ChatRequest is a normalized chat invocation. Immutable once constructed;
// owned by the caller for the duration of one invocation.
type ChatRequest struct {
	Messages []Message        `json:"messages" binding:"required,min=1,dive"`
	Model    string           `json:"model" binding:"required,modelname"`
	BaseURL  string           `json:"baseUrl,omitempty"`
	Stream   bool             `json:"stream"`
	Options  *SamplingOptions `json:"options,omitempty"`
}

// Validate applies the cross-field rules gin's tags cannot express.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) > maxMessages {
		return E(KindValidation, "too many messages: %d (max %d)", len(r.Messages), maxMessages)
	}
	for i, m := range r.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return E(KindValidation, "message %d has empty content", i)
		}
	}
	return validateOptions(r.Options)
}

// GenerateRequest is a normalized single-prompt invocation. Same contract
// shape as ChatRequest applied to one prompt string.
type GenerateRequest struct {
	Prompt  string           `json:"prompt" binding:"required"`
	Model   string           `json:"model" binding:"required,modelname"`
	BaseURL string           `json:"baseUrl,omitempty"`
	Stream  bool             `json:"stream"`
	Options *SamplingOptions `json:"options,omitempty"`
}

// Validate applies the cross-field rules gin's tags cannot express.
func (r *GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return E(KindValidation, "prompt must not be blank")
	}
	return validateOptions(r.Options)
}

// EmbeddingsRequest asks for an embedding vector for one input string.
type EmbeddingsRequest struct {
	Input   string `json:"input" binding:"required"`
	Model   string `json:"model" binding:"required,modelname"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ModelActionRequest covers the admin model-management bodies (pull,
// delete, validate).
type ModelActionRequest struct {
	Model   string `json:"model" binding:"required,modelname"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// CopyModelRequest asks the daemon to copy a model under a new name.
type CopyModelRequest struct {
	Source      string `json:"source" binding:"required,modelname"`
	Destination string `json:"destination" binding:"required,modelname"`
	BaseURL     string `json:"baseUrl,omitempty"`
}

// SettingsUpdateRequest wraps a partial settings document for PUT /settings.
type SettingsUpdateRequest struct {
	Settings SettingsPatch `json:"settings" binding:"required"`
}

func validateOptions(o *SamplingOptions) error {
	if o == nil {
		return nil
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return E(KindValidation, "temperature %v out of range [0, 2]", *o.Temperature)
	}
	if o.TopP != nil && (*o.TopP <= 0 || *o.TopP > 1) {
		return E(KindValidation, "top_p %v out of range (0, 1]", *o.TopP)
	}
	if o.TopK != nil && *o.TopK < 0 {
		return E(KindValidation, "top_k must not be negative")
	}
	if o.RepeatPenalty != nil && *o.RepeatPenalty <= 0 {
		return E(KindValidation, "repeat_penalty must be positive")
	}
	if o.NumPredict != nil && *o.NumPredict < -1 {
		return E(KindValidation, "num_predict must be >= -1")
	}
	return nil
}
