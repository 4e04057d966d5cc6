package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantClient *bool
		wantErr    bool
	}{
		{
			name:       "plain json",
			text:       `{"isClient": true, "confidence": 0.9, "reasoning": "ok"}`,
			wantClient: boolPtr(true),
		},
		{
			name:       "json code fence",
			text:       "```json\n{\"isClient\": false, \"confidence\": 0.8}\n```",
			wantClient: boolPtr(false),
		},
		{
			name:       "bare code fence",
			text:       "```\n{\"isClient\": true}\n```",
			wantClient: boolPtr(true),
		},
		{
			name:       "object inside prose",
			text:       `Вот мой ответ: {"isClient": false, "confidence": 0.7} — на основе переписки.`,
			wantClient: boolPtr(false),
		},
		{
			name:       "null verdict",
			text:       `{"isClient": null, "confidence": 0.3}`,
			wantClient: nil,
		},
		{
			name:    "no json at all",
			text:    "не могу определить",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			switch {
			case tt.wantClient == nil:
				if got.IsClient != nil {
					t.Errorf("IsClient = %v, want nil", *got.IsClient)
				}
			case got.IsClient == nil:
				t.Errorf("IsClient = nil, want %v", *tt.wantClient)
			case *got.IsClient != *tt.wantClient:
				t.Errorf("IsClient = %v, want %v", *got.IsClient, *tt.wantClient)
			}
		})
	}
}

func boolPtr(v bool) *bool { return &v }

func geminiStub(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key", "gemini-2.0-flash", srv.URL)
	c.retryConfig.BaseDelay = 0
	return c, srv
}

func geminiReply(text string) []byte {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

func TestGenerateAppendsTrailingUserTurn(t *testing.T) {
	var got struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
	}
	c, _ := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Write(geminiReply("Ответ"))
	})

	reply, err := c.Generate(context.Background(), "system", []Turn{{Role: "model", Text: "Здравствуйте"}}, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Ответ" {
		t.Errorf("reply = %q", reply)
	}
	if n := len(got.Contents); n != 2 {
		t.Fatalf("sent %d contents, want history plus trailing user turn", n)
	}
	if got.Contents[1].Role != "user" {
		t.Errorf("trailing role = %q, want user", got.Contents[1].Role)
	}
}

func TestGenerateRetriesOn5xx(t *testing.T) {
	attempts := 0
	c, _ := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(geminiReply("Готово"))
	})

	reply, err := c.Generate(context.Background(), "", nil, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Готово" {
		t.Errorf("reply = %q", reply)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestGenerateFailsFastOn4xx(t *testing.T) {
	attempts := 0
	c, _ := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	if _, err := c.Generate(context.Background(), "", nil, 0.7); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want no retry on 401", attempts)
	}
}

func TestClassifyJSON(t *testing.T) {
	c, _ := geminiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(geminiReply("```json\n{\"isClient\": true, \"confidence\": 0.95, \"reasoning\": \"спрашивает цену\"}\n```"))
	})

	got, err := c.ClassifyJSON(context.Background(), "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsClient == nil || !*got.IsClient {
		t.Error("IsClient should be true")
	}
	if got.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", got.Confidence)
	}
}
