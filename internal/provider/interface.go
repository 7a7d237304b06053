// Package provider selects and constructs the chat model that answers
// questions from retrieved context, and adapts it to rag.Generator.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL.
	Host string `yaml:"host"`
	// Model is the chat model name (e.g. "llama3").
	Model string `yaml:"model"`
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string `yaml:"-"`
	// Model is the chat model name (e.g. "gpt-4o").
	Model string `yaml:"model"`
	// BaseURL optionally overrides the API endpoint (OpenAI-compatible servers).
	BaseURL string `yaml:"base_url"`
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key.
	APIKey string `yaml:"-"`
	// Endpoint is the resource endpoint (e.g. "https://my.openai.azure.com").
	Endpoint string `yaml:"endpoint"`
	// Deployment is the chat deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string `yaml:"api_version"`
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	// APIKey is the Ark API key.
	APIKey string `yaml:"-"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model"`
	// BaseURL optionally overrides the Ark region endpoint.
	BaseURL string `yaml:"base_url"`
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google AI Studio API key.
	APIKey string `yaml:"-"`
	// Model is the Gemini model name (e.g. "gemini-1.5-pro").
	Model string `yaml:"model"`
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per answer.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend
	// Ollama configures BackendOllama.
	Ollama ProviderOllama
	// OpenAI configures BackendOpenAI.
	OpenAI ProviderOpenAI
	// AzureOpenAI configures BackendAzure.
	AzureOpenAI ProviderAzureOpenAI
	// Ark configures BackendArk.
	Ark ProviderArk
	// Gemini configures BackendGemini.
	Gemini ProviderGemini
	// Tuning applies to every backend.
	Tuning SharedTuning
}

// setting pairs a required value with the environment variable that supplies it.
type setting struct {
	env   string
	value string
}

// required lists the settings the selected backend cannot run without, or
// false for an unknown backend.
func (c *Config) required() ([]setting, bool) {
	switch c.Backend {
	case BackendOllama:
		return []setting{{"OLLAMA_HOST", c.Ollama.Host}, {"OLLAMA_MODEL", c.Ollama.Model}}, true
	case BackendOpenAI:
		return []setting{{"OPENAI_API_KEY", c.OpenAI.APIKey}, {"OPENAI_MODEL", c.OpenAI.Model}}, true
	case BackendAzure:
		return []setting{
			{"AZURE_OPENAI_API_KEY", c.AzureOpenAI.APIKey},
			{"AZURE_OPENAI_ENDPOINT", c.AzureOpenAI.Endpoint},
			{"AZURE_OPENAI_DEPLOYMENT", c.AzureOpenAI.Deployment},
		}, true
	case BackendArk:
		return []setting{{"ARK_API_KEY", c.Ark.APIKey}, {"ARK_MODEL", c.Ark.Model}}, true
	case BackendGemini:
		return []setting{{"GOOGLE_API_KEY", c.Gemini.APIKey}, {"GEMINI_MODEL", c.Gemini.Model}}, true
	}
	return nil, false
}

// Validate reports every missing setting of the selected backend in one
// error, naming the environment variables to set, and rejects tuning values
// no backend accepts.
func (c *Config) Validate() error {
	settings, ok := c.required()
	if !ok {
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	var missing []string
	for _, s := range settings {
		if strings.TrimSpace(s.value) == "" {
			missing = append(missing, s.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	if t := c.Tuning.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE %v outside [0, 2]", t)
	}
	if c.Tuning.MaxTokens < 0 {
		return fmt.Errorf("provider: MODEL_MAX_TOKENS must not be negative")
	}
	return nil
}

// ModelName returns the model or deployment name of the selected backend,
// for logs and health output.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// azureReasoningPrefixes identify Azure deployments of reasoning models,
// which reject temperature and max_tokens.
var azureReasoningPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether deployment names a reasoning model.
func isAzureReasoningModel(deployment string) bool {
	lower := strings.ToLower(deployment)
	for _, p := range azureReasoningPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
