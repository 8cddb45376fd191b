package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSavedResponse_Extract(t *testing.T) {
	data := []byte(`{
		"content": " {\"success\": true} ",
		"tokens": [{"token": "{", "logprob": 0}, {"token": "\"success\"", "logprob": -0.01}],
		"model": "gpt-4o",
		"tokens_used": 812
	}`)

	resp, err := DecodeSavedResponse(data)
	require.NoError(t, err)
	assert.Equal(t, `{"success": true}`, resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, 812, resp.TokensUsed)
	require.Len(t, resp.Tokens, 2)
	assert.InDelta(t, -0.01, resp.Tokens[1].Logprob, 1e-9)
}

func TestDecodeSavedResponse_ChatCompletion(t *testing.T) {
	data := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4o-2024-08-06",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "{\"success\": false}"},
			"logprobs": {"content": [
				{"token": "{", "logprob": -0.001, "top_logprobs": []},
				{"token": "\"success\"", "logprob": -0.2, "top_logprobs": []}
			]},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 700, "completion_tokens": 12, "total_tokens": 712}
	}`)

	resp, err := DecodeSavedResponse(data)
	require.NoError(t, err)
	assert.Equal(t, `{"success": false}`, resp.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.Equal(t, 712, resp.TokensUsed)
	require.Len(t, resp.Tokens, 2)
	assert.Equal(t, `"success"`, resp.Tokens[1].Token)
	assert.InDelta(t, -0.2, resp.Tokens[1].Logprob, 1e-9)
}

func TestDecodeSavedResponse_Errors(t *testing.T) {
	_, err := DecodeSavedResponse([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeSavedResponse([]byte(`{"model": "gpt-4o"}`))
	assert.Error(t, err)

	_, err = DecodeSavedResponse([]byte(`{"choices": []}`))
	assert.Error(t, err)
}
