package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/logging"
)

var testProfile = domain.Profile{Category: "accounting", Industry: "it-web"}

func testClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	return NewClient(cfg, logging.New(nil, "silent"))
}

func chatServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGenerateIntroduction_NoKeyUsesTemplate(t *testing.T) {
	c := testClient(t, Config{})
	intro := c.GenerateIntroduction(context.Background(), testProfile)

	assert.Contains(t, intro, "ぜひご覧ください")
	assert.GreaterOrEqual(t, len([]rune(intro)), 100)
	assert.Contains(t, intro, "IT・Web業界")
	assert.Contains(t, intro, "経理・会計業務")
}

func TestGenerateIntroduction_ServerFailureUsesTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, Config{APIKey: "k", ChatEndpoint: srv.URL})
	intro := c.GenerateIntroduction(context.Background(), testProfile)
	assert.Contains(t, intro, "ぜひご覧ください")
}

func TestGenerateIntroduction_UsesGeneratedText(t *testing.T) {
	srv := chatServer(t, "こんにちは。IT業界の経理のご相談ですね。")
	defer srv.Close()

	c := testClient(t, Config{APIKey: "k", ChatEndpoint: srv.URL})
	intro := c.GenerateIntroduction(context.Background(), testProfile)
	assert.Equal(t, "こんにちは。IT業界の経理のご相談ですね。", intro)
}

func TestGenerateReply_NoKeyUsesKeywordFallback(t *testing.T) {
	c := testClient(t, Config{})
	turns := []domain.Turn{domain.NewTurn(domain.RoleUser, "料金はいくらですか", time.Now())}

	reply, err := c.GenerateReply(context.Background(), turns, testProfile, nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "料金は業務量や難易度によって変わります")
}

func TestGenerateReply_ServerFailureReturnsApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, Config{APIKey: "k", ChatEndpoint: srv.URL})
	turns := []domain.Turn{domain.NewTurn(domain.RoleUser, "詳しく教えて", time.Now())}

	reply, err := c.GenerateReply(context.Background(), turns, testProfile, nil)
	require.NoError(t, err)
	assert.Equal(t, Apology, reply)
}

func TestGenerateReply_CancelledContextIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(t, Config{APIKey: "k", ChatEndpoint: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GenerateReply(ctx, []domain.Turn{domain.NewTurn(domain.RoleUser, "x", time.Now())}, testProfile, nil)
	require.Error(t, err)
}

func TestGenerateReply_SystemInstructionSeparatedFromTurns(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "了解しました"}}}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := testClient(t, Config{APIKey: "k", ChatEndpoint: srv.URL})
	now := time.Now()
	turns := []domain.Turn{
		domain.NewTurn(domain.RoleUser, "最初の質問", now),
		domain.NewTurn(domain.RoleAssistant, "最初の回答", now.Add(time.Second)),
		domain.NewTurn(domain.RoleUser, "次の質問", now.Add(2*time.Second)),
	}
	cases := []domain.CaseStudy{{Title: "経理代行", Background: "背景", RequestedContent: "依頼", ActualServices: []string{"仕訳"}}}

	reply, err := c.GenerateReply(context.Background(), turns, testProfile, cases)
	require.NoError(t, err)
	assert.Equal(t, "了解しました", reply)

	// The contents array holds only the turns, in original order, with
	// role mapping user→user / assistant→model.
	contents := captured["contents"].([]any)
	require.Len(t, contents, 3)
	first := contents[0].(map[string]any)
	second := contents[1].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "model", second["role"])

	// Profile and case context live in systemInstruction, not contents.
	sys, _ := json.Marshal(captured["systemInstruction"])
	assert.Contains(t, string(sys), "経理代行")
	assert.Contains(t, string(sys), "IT・Web業界")
	raw, _ := json.Marshal(contents)
	assert.NotContains(t, string(raw), "IT・Web業界")

	// Token budget honors the floor.
	genCfg := captured["generationConfig"].(map[string]any)
	assert.GreaterOrEqual(t, genCfg["maxOutputTokens"].(float64), float64(replyTokenFloor))
}

func TestGenerateCases_NoKeyFails(t *testing.T) {
	c := testClient(t, Config{})
	_, err := c.GenerateCases(context.Background(), testProfile, nil)
	require.Error(t, err)
}

func TestGenerateCases_StreamsAndTerminates(t *testing.T) {
	var gotExclude string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs map[string]any `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotExclude, _ = req.Inputs["exclude_titles"].(string)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sampleStream))
	}))
	defer srv.Close()

	c := testClient(t, Config{CaseAPIKey: "k", CaseEndpoint: srv.URL})
	ch, err := c.GenerateCases(context.Background(), testProfile, []string{"既出の事例", "別の事例"})
	require.NoError(t, err)

	var deltas int
	var result *Event
	for evt := range ch {
		switch evt.Type {
		case EventDelta:
			deltas++
		case EventResult:
			e := evt
			result = &e
		}
	}

	assert.Equal(t, 3, deltas)
	require.NotNil(t, result)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, "経理代行", result.Cases[0].Title)
	assert.Equal(t, "既出の事例、別の事例", gotExclude)
}

func TestGenerateCases_HTTPErrorBecomesErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, Config{CaseAPIKey: "k", CaseEndpoint: srv.URL})
	ch, err := c.GenerateCases(context.Background(), testProfile, nil)
	require.NoError(t, err)

	evt, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventError, evt.Type)
	assert.Contains(t, evt.Err, "429")

	_, open := <-ch
	assert.False(t, open)
}

func TestFallbackReply_KeywordRouting(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"導入までどのくらいかかりますか", "最短1〜2週間"},
		{"セキュリティ面が心配です", "NDAの締結"},
		{"どんな体制で対応してもらえますか", "担当者をアサイン"},
		{"コストを知りたい", "料金は業務量"},
		{"なんとなく相談したい", "柔軟に対応"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := FallbackReply(tt.message, testProfile)
			assert.Contains(t, got, tt.want)
		})
	}
}
