package fallback

import "strings"

// Provider names accepted in a company's fallback priority list.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderAzure     = "azure"
)

// modelEquivalents maps an Ollama model reference to the closest hosted
// equivalent on each fallback provider. Keys exist both with and without a
// size tag where the size changes the appropriate substitute; untagged keys
// act as the base-name catch-all. Azure deployments conventionally reuse the
// OpenAI model names.
var modelEquivalents = map[string]map[string]string{
	"llama3.1:8b": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"llama3.1:70b": {
		ProviderOpenAI:    "gpt-4o",
		ProviderAnthropic: "claude-3-5-sonnet-latest",
		ProviderAzure:     "gpt-4o",
	},
	"llama3.1": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"llama3": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"llama3.2": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"mistral": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"mixtral": {
		ProviderOpenAI:    "gpt-4o",
		ProviderAnthropic: "claude-3-5-sonnet-latest",
		ProviderAzure:     "gpt-4o",
	},
	"gemma2": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"phi3": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"qwen2.5": {
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
		ProviderAzure:     "gpt-4o-mini",
	},
	"codellama": {
		ProviderOpenAI:    "gpt-4o",
		ProviderAnthropic: "claude-3-5-sonnet-latest",
		ProviderAzure:     "gpt-4o",
	},
	"deepseek-r1": {
		ProviderOpenAI:    "o1-mini",
		ProviderAnthropic: "claude-3-5-sonnet-latest",
		ProviderAzure:     "o1-mini",
	},
	"llava": {
		ProviderOpenAI:    "gpt-4o",
		ProviderAnthropic: "claude-3-5-sonnet-latest",
		ProviderAzure:     "gpt-4o",
	},
}

// Equivalent resolves the provider's stand-in for an Ollama model reference.
//
// Lookup is two-phase: the exact reference first ("llama3.1:8b"), then the
// base name before the ":" tag separator ("llama3.1"). Returns false when
// neither phase finds an entry for the provider.
func Equivalent(provider, model string) (string, bool) {
	if byProvider, ok := modelEquivalents[model]; ok {
		if eq, ok := byProvider[provider]; ok {
			return eq, true
		}
	}
	if base, _, tagged := strings.Cut(model, ":"); tagged {
		if byProvider, ok := modelEquivalents[base]; ok {
			if eq, ok := byProvider[provider]; ok {
				return eq, true
			}
		}
	}
	return "", false
}
