package providers

import (
	"net/http"

	"centurion/internal/config"
	"centurion/internal/llm"
	openaillm "centurion/internal/llm/openai"
)

// Build constructs the runtime's LLM provider. The conversational-sales
// runtime binds to a single OpenAI-compatible endpoint (hosted OpenAI or a
// self-hosted OpenAI-compatible server) rather than selecting between
// multiple vendor SDKs at runtime.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	oc := cfg.LLM
	if oc.API == "" {
		oc.API = "responses"
	}
	if oc.Provider == "local" {
		oc.API = "completions"
	}
	return openaillm.New(oc, httpClient), nil
}
