package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIOptions{APIKey: "  "}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestOpenAIClientSendsPersonaAsSystemMessage(t *testing.T) {
	var captured openAIChatRequest
	var auth, path string
	client, err := NewOpenAIClient(OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: "https://llm.example/v1/",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			auth = r.Header.Get("Authorization")
			path = r.URL.String()
			if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
			return jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"  the stars say yes \n"}}]}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient returned error: %v", err)
	}

	got, err := client.GenerateResponse(context.Background(), "You are an oracle.", "will it rain?")
	if err != nil {
		t.Fatalf("GenerateResponse returned error: %v", err)
	}
	if got != "the stars say yes" {
		t.Fatalf("reply = %q, want trimmed content", got)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", auth)
	}
	if path != "https://llm.example/v1/chat/completions" {
		t.Fatalf("url = %q", path)
	}
	if captured.Model != defaultOpenAIModel {
		t.Fatalf("model = %q, want %q", captured.Model, defaultOpenAIModel)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[0].Content != "You are an oracle." {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}
	if captured.Messages[1].Role != "user" || captured.Messages[1].Content != "will it rain?" {
		t.Fatalf("unexpected user message: %+v", captured.Messages[1])
	}
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		err    error
	}{
		{name: "http status", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"bad","type":"invalid_request_error"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, err: ErrEmptyCompletion},
		{name: "blank content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"   "}}]}`, err: ErrEmptyCompletion},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewOpenAIClient(OpenAIOptions{
				APIKey: "sk-test",
				HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					return jsonResponse(tc.status, tc.body), nil
				})},
			})
			if err != nil {
				t.Fatalf("NewOpenAIClient returned error: %v", err)
			}
			_, err = client.GenerateResponse(context.Background(), "p", "q")
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
		})
	}
}

func TestOpenAIClientTransportFailure(t *testing.T) {
	client, _ := NewOpenAIClient(OpenAIOptions{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})},
	})
	if _, err := client.GenerateResponse(context.Background(), "p", "q"); err == nil {
		t.Fatal("expected transport error")
	}
}
