package fallback

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

// OpenAIExecutor answers fallback calls through the OpenAI chat completions
// API using the company's stored key.
type OpenAIExecutor struct{}

var _ Executor = OpenAIExecutor{}

// Provider returns "openai".
func (OpenAIExecutor) Provider() string { return ProviderOpenAI }

// Complete runs one chat completion against OpenAI.
func (OpenAIExecutor) Complete(ctx context.Context, creds datatypes.ProviderCredentials,
	model string, call datatypes.FallbackCall) (*Completion, error) {

	if creds.APIKey == "" {
		return nil, datatypes.E(datatypes.KindProviderError,
			"no OpenAI API key configured for this company")
	}
	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.Endpoint != "" {
		cfg.BaseURL = creds.Endpoint
	}
	return completeChat(ctx, openai.NewClientWithConfig(cfg), ProviderOpenAI, model, call)
}

// AzureExecutor answers fallback calls through an Azure OpenAI deployment.
// The stored endpoint and API version select the deployment; Azure expects
// the deployment to be named after the model.
type AzureExecutor struct{}

var _ Executor = AzureExecutor{}

// Provider returns "azure".
func (AzureExecutor) Provider() string { return ProviderAzure }

// Complete runs one chat completion against Azure OpenAI.
func (AzureExecutor) Complete(ctx context.Context, creds datatypes.ProviderCredentials,
	model string, call datatypes.FallbackCall) (*Completion, error) {

	if creds.APIKey == "" || creds.Endpoint == "" {
		return nil, datatypes.E(datatypes.KindProviderError,
			"Azure fallback requires both an API key and an endpoint")
	}
	cfg := openai.DefaultAzureConfig(creds.APIKey, creds.Endpoint)
	if creds.APIVersion != "" {
		cfg.APIVersion = creds.APIVersion
	}
	return completeChat(ctx, openai.NewClientWithConfig(cfg), ProviderAzure, model, call)
}

// completeChat is the shared OpenAI-protocol call. Azure speaks the same
// wire format, so both executors funnel through here.
func completeChat(ctx context.Context, client *openai.Client, provider, model string,
	call datatypes.FallbackCall) (*Completion, error) {

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(call),
	}
	if o := call.Options; o != nil {
		if o.Temperature != nil {
			req.Temperature = float32(*o.Temperature)
		}
		if o.TopP != nil {
			req.TopP = float32(*o.TopP)
		}
		if o.NumPredict != nil && *o.NumPredict > 0 {
			req.MaxTokens = *o.NumPredict
		}
		if len(o.Stop) > 0 {
			req.Stop = o.Stop
		}
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, datatypes.Wrap(datatypes.KindProviderError, err,
			"%s chat completion failed", provider)
	}
	if len(resp.Choices) == 0 {
		return nil, datatypes.E(datatypes.KindProviderError,
			"%s returned no completion choices", provider)
	}
	return &Completion{
		Text:   resp.Choices[0].Message.Content,
		Tokens: resp.Usage.CompletionTokens,
	}, nil
}

// toChatMessages converts the failed call into OpenAI chat messages. A
// generate-style call becomes a single user message.
func toChatMessages(call datatypes.FallbackCall) []openai.ChatCompletionMessage {
	if len(call.Messages) == 0 {
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: call.Prompt},
		}
	}
	out := make([]openai.ChatCompletionMessage, 0, len(call.Messages))
	for _, m := range call.Messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
