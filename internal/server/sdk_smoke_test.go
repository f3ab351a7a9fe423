package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/models"
)

func newOpenAISDKClient(t *testing.T, s *Server) openai.Client {
	t.Helper()
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(httpSrv.Close)
	return openai.NewClient(
		option.WithBaseURL(httpSrv.URL+"/v1"),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
}

// quietOptions leaves only chunk records in the stream; the SDK decodes
// named events as chunks too.
func quietOptions(c *config.Config) {
	c.Options.ShowProcessingStatus = false
	c.Options.ShowCitations = false
	c.Options.ShowTokenUsage = false
}

func TestOpenAIGoSDKSmokeChatCompletions(t *testing.T) {
	api := &fakeMessagesAPI{}
	client := newOpenAISDKClient(t, newTestServer(t, api, quietOptions))

	out, err := client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel(models.PipeModelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello from sdk"),
		},
	})
	if err != nil {
		t.Fatalf("sdk chat completion failed: %v", err)
	}
	if len(out.Choices) == 0 {
		t.Fatalf("expected non-empty choices, got: %+v", out)
	}
	if got := out.Choices[0].Message.Content; !strings.HasSuffix(got, "pong") {
		t.Fatalf("unexpected content: %q", got)
	}
	if out.Choices[0].FinishReason != "length" {
		t.Errorf("finish reason: got %q want %q", out.Choices[0].FinishReason, "length")
	}
	if out.Usage.PromptTokens != 7 || out.Usage.CompletionTokens != 2 {
		t.Errorf("unexpected usage: %+v", out.Usage)
	}
	if api.calls() != 1 {
		t.Fatalf("upstream call count: got %d want %d", api.calls(), 1)
	}
}

func TestOpenAIGoSDKSmokeChatCompletionsStreaming(t *testing.T) {
	api := &fakeMessagesAPI{}
	client := newOpenAISDKClient(t, newTestServer(t, api, quietOptions))

	stream := client.Chat.Completions.NewStreaming(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel(models.PipeModelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("stream please"),
		},
	})

	var content strings.Builder
	var sawStop bool
	for stream.Next() {
		for _, choice := range stream.Current().Choices {
			content.WriteString(choice.Delta.Content)
			if choice.FinishReason == "stop" {
				sawStop = true
			}
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if content.String() != "Hello" {
		t.Errorf("content: got %q want %q", content.String(), "Hello")
	}
	if !sawStop {
		t.Error("expected a stop finish reason")
	}
}

func TestOpenAIGoSDKSmokeListModels(t *testing.T) {
	client := newOpenAISDKClient(t, newTestServer(t, &fakeMessagesAPI{}, nil))

	page, err := client.Models.List(context.Background())
	if err != nil {
		t.Fatalf("list models failed: %v", err)
	}
	if len(page.Data) == 0 || page.Data[0].ID != models.PipeModelID {
		t.Fatalf("unexpected models: %+v", page.Data)
	}
}
