package llm

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
)

// DecodeSavedResponse reads a previously captured completion. Two shapes are
// accepted: an ExtractResponse encoded as JSON, and
// a raw OpenAI chat completion body with logprobs.
func DecodeSavedResponse(data []byte) (*ExtractResponse, error) {
	var probe struct {
		Choices json.RawMessage `json:"choices"`
		Content *string         `json:"content"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrap(err, "llm: decode saved response")
	}

	if len(probe.Choices) > 0 {
		var completion openai.ChatCompletionResponse
		if err := json.Unmarshal(data, &completion); err != nil {
			return nil, eris.Wrap(err, "llm: decode chat completion")
		}
		return fromChatCompletion(completion)
	}

	if probe.Content == nil {
		return nil, eris.New("llm: saved response has neither content nor choices")
	}

	var resp ExtractResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "llm: decode saved response")
	}
	resp.Content = strings.TrimSpace(resp.Content)
	return &resp, nil
}
