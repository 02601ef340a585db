package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-galina/internal/log"
)

func fastService(p Provider, opts ...Option) *Service {
	base := []Option{
		WithRetry(3, time.Millisecond, time.Millisecond),
		WithLogger(log.Discard()),
	}
	return NewService(p, append(base, opts...)...)
}

func lastMessage(req *Request) Message {
	return req.Messages[len(req.Messages)-1]
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai shape", `{"choices":[{"message":{"content":" Добрый день "}}]}`, "Добрый день"},
		{"message field", `{"message":"Здравствуйте"}`, "Здравствуйте"},
		{"content field", `{"content":"Да"}`, "Да"},
		{"empty document", `{}`, ""},
		{"event stream", "data: {\"content\":\"Добрый \"}\n\ndata: {\"content\":\"день\"}\n\ndata: [DONE]\n", "Добрый день"},
		{"event stream skips bad chunk", "data: {\"content\":\"А\"}\ndata: {oops\ndata: {\"content\":\"Б\"}\n", "АБ"},
		{"delta chunks", "data: {\"choices\":[{\"delta\":{\"content\":\"При\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"вет\"}}]}\n", "Привет"},
		{"plain text", "hello", ""},
		{"blank", "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBody([]byte(tt.body)); got != tt.want {
				t.Errorf("ParseBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRephrase(t *testing.T) {
	if got := rephrase("развод", 0); got != "развод" {
		t.Errorf("attempt 0 = %q", got)
	}
	if got := rephrase("развод", 1); got != "Пожалуйста, объясни: развод" {
		t.Errorf("attempt 1 = %q", got)
	}
	if got := rephrase("развод", 3); got != "Помоги мне с: развод" {
		t.Errorf("attempt 3 = %q", got)
	}
	if got := rephrase("развод", 9); got != "Скажи мне: развод" {
		t.Errorf("attempt 9 = %q", got)
	}
}

func TestGateway(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		var got chatPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/chat" {
				t.Errorf("path = %s, want /api/chat", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
				t.Errorf("Authorization = %q", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"choices":[{"message":{"content":"Обратитесь в суд."}}]}`)
		}))
		defer server.Close()

		g, err := NewGateway(WithBaseURL(server.URL+"/"), WithAPIKey("tok"), WithLogger(log.Discard()))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := g.Complete(context.Background(), &Request{Messages: []Message{NewUserMessage("Что делать?")}})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Text != "Обратитесь в суд." {
			t.Errorf("Text = %q", resp.Text)
		}
		if got.Model != "gpt-4o-mini" || got.MaxTokens != 500 || got.Temperature != 0.7 || got.Stream {
			t.Errorf("payload = %+v", got)
		}
		if len(got.Messages) != 1 || got.Messages[0].Role != RoleUser {
			t.Errorf("messages = %+v", got.Messages)
		}
	})

	t.Run("stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p chatPayload
			json.NewDecoder(r.Body).Decode(&p)
			if !p.Stream {
				t.Error("expected stream flag")
			}
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"content\":\"Да, \"}\n\n")
			fmt.Fprint(w, ": keepalive\n\n")
			fmt.Fprint(w, "data: {\"content\":\"конечно.\"}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer server.Close()

		g, _ := NewGateway(WithBaseURL(server.URL), WithLogger(log.Discard()))
		s, err := g.Stream(context.Background(), &Request{Messages: []Message{NewUserMessage("Можно?")}})
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		text, err := Collect(s)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if text != "Да, конечно." {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer server.Close()

		g, _ := NewGateway(WithBaseURL(server.URL), WithLogger(log.Discard()))
		_, err := g.Complete(context.Background(), &Request{})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.StatusCode != http.StatusBadGateway || !apiErr.IsRetryable() {
			t.Errorf("apiErr = %+v", apiErr)
		}
	})

	t.Run("requires base URL", func(t *testing.T) {
		if _, err := NewGateway(); !errors.Is(err, ErrNoBaseURL) {
			t.Errorf("error = %v, want ErrNoBaseURL", err)
		}
	})
}

func TestOpenAI(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("path = %s", r.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["max_completion_tokens"] != float64(500) {
				t.Errorf("max_completion_tokens = %v", body["max_completion_tokens"])
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Добрый день"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
		}))
		defer server.Close()

		o, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(server.URL+"/v1"), WithLogger(log.Discard()))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := o.Complete(context.Background(), &Request{Messages: []Message{NewUserMessage("Привет")}})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Text != "Добрый день" || resp.Usage.TotalTokens != 15 {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Добрый \"}}]}\n\n")
			fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"день\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer server.Close()

		o, _ := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(server.URL+"/v1"), WithLogger(log.Discard()))
		s, err := o.Stream(context.Background(), &Request{Messages: []Message{NewUserMessage("Привет")}})
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		text, err := Collect(s)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if text != "Добрый день" {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"invalid key","type":"invalid_request_error"}}`)
		}))
		defer server.Close()

		o, _ := NewOpenAI(WithAPIKey("sk-bad"), WithBaseURL(server.URL+"/v1"), WithLogger(log.Discard()))
		_, err := o.Complete(context.Background(), &Request{Messages: []Message{NewUserMessage("Привет")}})
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
			t.Fatalf("error = %v, want unauthorized APIError", err)
		}
	})

	t.Run("requires key", func(t *testing.T) {
		if _, err := NewOpenAI(); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("error = %v, want ErrNoAPIKey", err)
		}
	})
}

func TestServiceReply(t *testing.T) {
	ctx := context.Background()

	t.Run("records history", func(t *testing.T) {
		m := NewMock("Подайте иск.")
		s := fastService(m)
		s.AddMessage(RoleAssistant, Greeting)

		res, err := s.Reply(ctx, "  Меня уволили  ")
		if err != nil {
			t.Fatalf("Reply() error = %v", err)
		}
		if res.Text != "Подайте иск." || res.Attempts != 1 || res.Fallback {
			t.Errorf("result = %+v", res)
		}

		req := m.Requests()[0]
		if req.Messages[0].Role != RoleSystem || req.Messages[0].Content != SystemPrompt {
			t.Error("first message should be the system prompt")
		}
		if last := lastMessage(req); last.Content != "Меня уволили" {
			t.Errorf("user message = %q", last.Content)
		}

		h := s.History()
		if len(h) != 3 || h[1].Role != RoleUser || h[2].Content != "Подайте иск." {
			t.Errorf("history = %+v", h)
		}
	})

	t.Run("retries empty replies with rephrasing", func(t *testing.T) {
		m := NewMock("").WithReplies("", "  ", "Ответ")
		s := fastService(m)

		res, err := s.Reply(ctx, "алименты")
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != "Ответ" || res.Attempts != 3 {
			t.Errorf("result = %+v", res)
		}
		reqs := m.Requests()
		want := []string{"алименты", "Пожалуйста, объясни: алименты", "Расскажи мне про: алименты"}
		for i, w := range want {
			if got := lastMessage(reqs[i]).Content; got != w {
				t.Errorf("attempt %d sent %q, want %q", i+1, got, w)
			}
		}
		if h := s.History(); h[0].Content != "алименты" {
			t.Errorf("history keeps the original text, got %q", h[0].Content)
		}
	})

	t.Run("falls back after empty replies", func(t *testing.T) {
		m := NewMock("").WithReplies("")
		s := fastService(m)

		res, err := s.Reply(ctx, "аренда")
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != FallbackEmpty || !res.Fallback || res.Attempts != 4 {
			t.Errorf("result = %+v", res)
		}
		if m.CallCount("Complete") != 4 {
			t.Errorf("calls = %d, want 4", m.CallCount("Complete"))
		}
		if !IsFallback(res.Text) {
			t.Error("IsFallback() = false")
		}
	})

	t.Run("falls back after errors", func(t *testing.T) {
		m := NewMock("").WithError(&APIError{StatusCode: 503, Provider: "mock"})
		s := fastService(m)

		res, err := s.Reply(ctx, "наследство")
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != FallbackError || !res.Fallback {
			t.Errorf("result = %+v", res)
		}
		if h := s.History(); len(h) != 1 {
			t.Errorf("fallback should not enter history, got %+v", h)
		}
	})

	t.Run("skips identical in-flight text", func(t *testing.T) {
		m := NewMock("Ок").WithLatency(100 * time.Millisecond)
		s := fastService(m)

		done := make(chan error, 1)
		go func() {
			_, err := s.Reply(ctx, "суд")
			done <- err
		}()
		deadline := time.Now().Add(time.Second)
		for m.CallCount("Complete") == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		if _, err := s.Reply(ctx, "суд"); !errors.Is(err, ErrInFlight) {
			t.Errorf("duplicate error = %v, want ErrInFlight", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("first Reply() error = %v", err)
		}
		if _, err := s.Reply(ctx, "суд"); err != nil {
			t.Errorf("repeat after completion error = %v", err)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		s := fastService(NewMock("x"))
		if _, err := s.Reply(ctx, "   "); !errors.Is(err, ErrEmptyText) {
			t.Errorf("error = %v, want ErrEmptyText", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		s := fastService(NewMock("x").WithLatency(time.Second))
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := s.Reply(cctx, "вопрос"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want deadline exceeded", err)
		}
	})

	t.Run("history limit and memory", func(t *testing.T) {
		m := NewMock("")
		s := fastService(m, WithHistoryLimit(2))
		s.SetProfile(&Profile{Name: "Анна"})

		for _, q := range []string{"один", "два", "три"} {
			if _, err := s.Reply(ctx, q); err != nil {
				t.Fatal(err)
			}
		}
		req := m.Requests()[2]
		if len(req.Messages) != 4 {
			t.Fatalf("messages = %d, want prompt + memory + 2", len(req.Messages))
		}
		if req.Messages[1].Content != "КОНТЕКСТ ПРОШЛЫХ КОНСУЛЬТАЦИЙ:\nИмя клиента: Анна" {
			t.Errorf("memory = %q", req.Messages[1].Content)
		}
		if req.Messages[2].Content != "два" || req.Messages[3].Content != "три" {
			t.Errorf("recent = %+v", req.Messages[2:])
		}
	})

	t.Run("streaming mode", func(t *testing.T) {
		m := NewMock("Да, вы правы.")
		s := fastService(m, WithStreaming(true))
		res, err := s.Reply(ctx, "Я прав?")
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != "Да, вы правы." {
			t.Errorf("Text = %q", res.Text)
		}
		if m.CallCount("Stream") != 1 || m.CallCount("Complete") != 0 {
			t.Errorf("calls = %+v", m.Calls())
		}
	})

	t.Run("profile learns from turns", func(t *testing.T) {
		s := fastService(NewMock("Понимаю."))
		s.SetProfile(&Profile{Name: "Олег"})
		if _, err := s.Reply(ctx, "Хочу подать на развод и разделить дом"); err != nil {
			t.Fatal(err)
		}
		p := s.Profile()
		if p.CaseType != "семейное право" {
			t.Errorf("CaseType = %q", p.CaseType)
		}
		topics := p.Topics()
		if strings.Join(topics, ",") != "семейное право,недвижимость" {
			t.Errorf("topics = %v", topics)
		}
	})

	t.Run("clear", func(t *testing.T) {
		s := fastService(NewMock("ok"))
		s.Reply(ctx, "вопрос")
		s.Clear()
		if len(s.History()) != 0 {
			t.Error("history not cleared")
		}
	})
}
