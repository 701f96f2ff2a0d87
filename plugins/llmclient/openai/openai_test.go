package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chefbatch/pkg/contract"
)

func newTestClient(t *testing.T, url string, extra map[string]any) contract.LLMClient {
	t.Helper()
	opts := map[string]any{"base_url": url, "api_key": "sk-test"}
	for k, v := range extra {
		opts[k] = v
	}
	raw, _ := json.Marshal(opts)
	c, err := New(raw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestInvokeSuccessRequestShape(t *testing.T) {
	var got oaReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" || r.Header.Get("X-Trace") != "1" {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"dish_name\\\":\\\"番茄炒蛋\\\"}\\n```" + `"}}]}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, map[string]any{"extra_headers": map[string]string{"X-Trace": "1"}})
	raw, err := c.Invoke(context.Background(), contract.ChatPrompt{{Role: "user", Content: "鸡蛋 番茄"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(raw.Text, `"dish_name":"番茄炒蛋"`) {
		t.Fatalf("raw = %q", raw.Text)
	}
	if got.Model != DefaultModel || got.Temperature == nil || *got.Temperature != DefaultTemperature || got.MaxTokens != DefaultMaxTokens {
		t.Fatalf("请求默认值错误: %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "鸡蛋 番茄" || got.ResponseFormat != nil {
		t.Fatalf("消息错误: %+v", got)
	}
}

func TestInvokeTextPromptJSONMode(t *testing.T) {
	var got oaReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, map[string]any{"json_mode": true, "model": "m1", "max_tokens": 0})
	if _, err := c.Invoke(context.Background(), contract.TextPrompt("hi")); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" || got.Model != "m1" || got.MaxTokens != 0 {
		t.Fatalf("请求错误: %+v", got)
	}
	if got.Messages[0].Role != "user" {
		t.Fatalf("TextPrompt 应映射为 user 消息")
	}
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"500", 500, "internal", func(t *testing.T, err error) {
			var ue contract.UpstreamError
			if !errors.As(err, &ue) || ue.UpstreamStatus() != 500 || ue.UpstreamMessage() != "internal" {
				t.Fatalf("应为上游错误: %v", err)
			}
			var ne net.Error
			if !errors.As(err, &ne) {
				t.Fatalf("5xx 应实现 net.Error")
			}
		}},
		{"429", 429, "slow down", func(t *testing.T, err error) {
			if !errors.Is(err, contract.ErrRateLimited) {
				t.Fatalf("429 应为 ErrRateLimited: %v", err)
			}
			var ue contract.UpstreamError
			if !errors.As(err, &ue) || ue.UpstreamStatus() != 429 {
				t.Fatalf("429 仍应携带状态码")
			}
		}},
		{"401", 401, "bad key", func(t *testing.T, err error) {
			if !errors.Is(err, contract.ErrInvalidInput) {
				t.Fatalf("4xx 应解包为 ErrInvalidInput: %v", err)
			}
		}},
		{"malformed", 200, "not json", func(t *testing.T, err error) {
			if !errors.Is(err, contract.ErrResponseInvalid) {
				t.Fatalf("应为 ErrResponseInvalid: %v", err)
			}
		}},
		{"no choices", 200, `{"choices":[]}`, func(t *testing.T, err error) {
			if !errors.Is(err, contract.ErrResponseInvalid) {
				t.Fatalf("应为 ErrResponseInvalid: %v", err)
			}
		}},
		{"empty content", 200, `{"choices":[{"message":{"content":"  "}}]}`, func(t *testing.T, err error) {
			if !errors.Is(err, contract.ErrEmptyResponse) {
				t.Fatalf("应为 ErrEmptyResponse: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := newTestClient(t, srv.URL, nil)
			_, err := c.Invoke(context.Background(), contract.TextPrompt("x"))
			if err == nil {
				t.Fatalf("应返回错误")
			}
			tt.check(t, err)
		})
	}
}

func TestInvokeCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Invoke(ctx, contract.TextPrompt("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("应返回 ctx 错误: %v", err)
	}
}

func TestNewAndPromptValidation(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "")
	if _, err := New(nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("缺少 key 应报错: %v", err)
	}
	t.Setenv(DefaultAPIKeyEnv, "sk-env")
	c, err := New(json.RawMessage(`{"endpoint_path":"http://example.invalid/v1/chat"}`))
	if err != nil {
		t.Fatalf("env key: %v", err)
	}
	if cl := c.(*Client); cl.url != "http://example.invalid/v1/chat" || cl.apiKey != "sk-env" {
		t.Fatalf("完整 URL/环境变量 key 未生效: %+v", cl)
	}
	if _, err := New(json.RawMessage(`{bad`)); err == nil {
		t.Fatalf("非法 JSON 应报错")
	}
	if _, err := c.Invoke(context.Background(), 42); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知 prompt 类型应报错: %v", err)
	}
	if _, err := c.Invoke(context.Background(), contract.ChatPrompt{}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空 prompt 应报错: %v", err)
	}
}
