package google

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/marketpulse/signals/pkg/llm"
)

func TestResponseText(t *testing.T) {
	tests := []struct {
		name string
		rsp  *genai.GenerateContentResponse
		want string
	}{
		{"nil", nil, ""},
		{"no candidates", &genai.GenerateContentResponse{}, ""},
		{"nil content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, ""},
		{
			"joined parts",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("Bullish "), genai.Text("on margins.")}},
			}}},
			"Bullish on margins.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := responseText(tt.rsp); got != tt.want {
				t.Errorf("responseText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapStatus(t *testing.T) {
	err := wrap("complete", &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"})
	var se *llm.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want 429 StatusError", err)
	}
	if !llm.Transient(err) {
		t.Error("quota errors should be transient")
	}

	plain := wrap("embed", errors.New("dial tcp: refused"))
	if errors.As(plain, &se) {
		t.Error("transport error should not become a StatusError")
	}
}

func TestConfigure(t *testing.T) {
	m := &genai.GenerativeModel{}
	configure(m, llm.Params{SystemPrompt: "You are an equity analyst.", Temperature: 0.2, MaxTokens: 512, JSON: true})
	if m.SystemInstruction == nil || len(m.SystemInstruction.Parts) != 1 {
		t.Fatalf("system instruction = %+v", m.SystemInstruction)
	}
	if got, ok := m.SystemInstruction.Parts[0].(genai.Text); !ok || got != "You are an equity analyst." {
		t.Errorf("system part = %#v", m.SystemInstruction.Parts[0])
	}
	if m.MaxOutputTokens == nil || *m.MaxOutputTokens != 512 {
		t.Errorf("max tokens = %v", m.MaxOutputTokens)
	}
	if m.ResponseMIMEType != "application/json" {
		t.Errorf("mime = %q", m.ResponseMIMEType)
	}

	bare := &genai.GenerativeModel{}
	configure(bare, llm.Params{})
	if bare.SystemInstruction != nil || bare.MaxOutputTokens != nil {
		t.Errorf("empty params should leave the model unset: %+v", bare)
	}
}
