package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/casefinder/internal/config"
	"github.com/soyeahso/casefinder/internal/domain"
	"github.com/soyeahso/casefinder/internal/genai"
	"github.com/soyeahso/casefinder/internal/logging"
	"github.com/soyeahso/casefinder/internal/store"
)

const testSecret = "test-server-secret"

func newTestServer(t *testing.T, gen genai.Generator) (*Server, *httptest.Server) {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Server.Secret = testSecret
	cfg.Playback.IntervalMs = 1

	if gen == nil {
		gen = &genai.MockGenerator{}
	}
	s := New(cfg, db, gen, log)

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	ts := httptest.NewServer(withMiddleware(mux, s.log, nil))
	t.Cleanup(func() {
		s.closeSessions()
		ts.Close()
	})
	return s, ts
}

func createTestConversation(t *testing.T, ts *httptest.Server) (id, token string) {
	t.Helper()
	body := `{
		"contact": {"name": "山田太郎", "email": "taro@example.com", "phone": "090-1234-5678"},
		"profile": {"category": "accounting", "industry": "it-web"}
	}`
	resp, err := http.Post(ts.URL+"/api/conversations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Conversation domain.Conversation `json:"conversation"`
		Token        string              `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Conversation.ID)
	require.NotEmpty(t, out.Token)
	return out.Conversation.ID, out.Token
}

func doJSON(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// awaitReady polls the conversation until the intro has resolved and
// the orchestrator accepts input.
func awaitReady(t *testing.T, ts *httptest.Server, id, token string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+id, token, "")
		var out struct {
			State string `json:"state"`
		}
		decodeBody(t, resp, &out)
		return out.State == "ready"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, out.Uptime)
}

func TestCreateConversation_Validation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := doJSON(t, "POST", ts.URL+"/api/conversations", "", `{"contact":{"name":"x"}}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConversation_TokenRequired(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, token := createTestConversation(t, ts)

	resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+id, "", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, "GET", ts.URL+"/api/conversations/"+id, "not-a-token", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, "GET", ts.URL+"/api/conversations/"+id, token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetConversation_TokenScopedToConversation(t *testing.T) {
	_, ts := newTestServer(t, nil)
	idA, _ := createTestConversation(t, ts)
	_, tokenB := createTestConversation(t, ts)

	resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+idA, tokenB, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetConversation_QueryTokenAccepted(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, token := createTestConversation(t, ts)

	resp, err := http.Get(fmt.Sprintf("%s/api/conversations/%s?token=%s", ts.URL, id, token))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetConversation_AdminSecretOverride(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, _ := createTestConversation(t, ts)

	resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+id, testSecret, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetConversation_Missing(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp := doJSON(t, "GET", ts.URL+"/api/conversations/nope", testSecret, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerify_ReissuesToken(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, token := createTestConversation(t, ts)

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/verify", "",
		`{"name": "山田太郎", "phone": "090-1234-5678"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, token, out.Token, "reissued token matches the original")

	resp = doJSON(t, "GET", ts.URL+"/api/conversations/"+id, out.Token, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerify_MismatchRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, _ := createTestConversation(t, ts)

	cases := []string{
		`{"name": "山田太郎", "phone": "000-0000-0000"}`,
		`{"name": "別人", "phone": "090-1234-5678"}`,
	}
	for _, body := range cases {
		resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/verify", "", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/verify", "", `{"name": "山田太郎"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "both fields required")
}

func TestListConversations_AdminOnly(t *testing.T) {
	_, ts := newTestServer(t, nil)
	_, token := createTestConversation(t, ts)

	resp := doJSON(t, "GET", ts.URL+"/api/conversations", token, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "lead tokens cannot list")

	resp = doJSON(t, "GET", ts.URL+"/api/conversations", testSecret, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Conversations, 1)
}

func TestPatchConversation(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, token := createTestConversation(t, ts)

	resp := doJSON(t, "PATCH", ts.URL+"/api/conversations/"+id, token, `{"status":"closed"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "patch is admin only")

	resp = doJSON(t, "PATCH", ts.URL+"/api/conversations/"+id, testSecret, `{"status":"bogus"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, "PATCH", ts.URL+"/api/conversations/"+id, testSecret, `{"status":"in_progress","notes":"電話済み"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, domain.StatusInProgress, out.Conversation.Status)
	assert.Equal(t, "電話済み", out.Conversation.Notes)
}

func TestSendMessage_FlowsToTranscript(t *testing.T) {
	gen := &genai.MockGenerator{
		ReplyFunc: func(ctx context.Context, turns []domain.Turn, p domain.Profile, cases []domain.CaseStudy) (string, error) {
			return "ご質問ありがとうございます", nil
		},
	}
	_, ts := newTestServer(t, gen)
	id, token := createTestConversation(t, ts)
	awaitReady(t, ts, id, token)

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/messages", token, `{"content":"料金を教えてください"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+id+"/messages", token, "")
		var out struct {
			Turns []domain.Turn `json:"turns"`
		}
		decodeBody(t, resp, &out)
		var haveUser, haveAssistant bool
		for _, turn := range out.Turns {
			switch {
			case turn.Role == domain.RoleUser && turn.Content == "料金を教えてください":
				haveUser = true
			case turn.Role == domain.RoleAssistant && turn.Content == "ご質問ありがとうございます":
				haveAssistant = true
			}
		}
		return haveUser && haveAssistant
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	id, token := createTestConversation(t, ts)

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/messages", token, `{"content":"   "}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadMore_PagesAndExhaustion(t *testing.T) {
	var calls int
	gen := &genai.MockGenerator{
		CasesFunc: func(ctx context.Context, p domain.Profile, exclude []string) (<-chan genai.Event, error) {
			calls++
			return genai.StaticCaseStream(
				domain.CaseStudy{Title: fmt.Sprintf("事例%d", len(exclude)+1)},
				domain.CaseStudy{Title: fmt.Sprintf("事例%d", len(exclude)+2)},
			), nil
		},
	}
	_, ts := newTestServer(t, gen)
	id, token := createTestConversation(t, ts)

	url := ts.URL + "/api/conversations/" + id + "/cases/more"
	var out struct {
		Cases     []domain.CaseStudy `json:"cases"`
		Exhausted bool               `json:"exhausted"`
	}

	for _, want := range []int{4, 6, 8} {
		resp := doJSON(t, "POST", url, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &out)
		assert.Len(t, out.Cases, want)
	}
	assert.True(t, out.Exhausted)

	callsBefore := calls
	resp := doJSON(t, "POST", url, token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, callsBefore, calls)
}

func TestGenerateCases_SSEStreamAndPersistence(t *testing.T) {
	gen := &genai.MockGenerator{
		CasesFunc: func(ctx context.Context, p domain.Profile, exclude []string) (<-chan genai.Event, error) {
			ch := make(chan genai.Event, 3)
			ch <- genai.Event{Type: genai.EventDelta, Text: "生成中"}
			ch <- genai.Event{Type: genai.EventResult, Cases: []domain.CaseStudy{
				{Title: "経理代行", Background: "月次が回らない"},
			}}
			close(ch)
			return ch, nil
		},
	}
	srv, ts := newTestServer(t, gen)
	id, token := createTestConversation(t, ts)

	body := fmt.Sprintf(`{"conversationId":%q}`, id)
	resp := doJSON(t, "POST", ts.URL+"/api/generate/cases", token, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var records []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "text_chunk", records[0]["event"])
	assert.Equal(t, "finished", records[1]["event"])

	stored, err := srv.conversations.Get(id)
	require.NoError(t, err)
	require.Len(t, stored.Cases, 1)
	assert.Equal(t, "経理代行", stored.Cases[0].Title)
}

func TestGenerateCases_SeedsLiveSession(t *testing.T) {
	var mu sync.Mutex
	var excludes [][]string
	gen := &genai.MockGenerator{
		CasesFunc: func(ctx context.Context, p domain.Profile, exclude []string) (<-chan genai.Event, error) {
			mu.Lock()
			excludes = append(excludes, append([]string(nil), exclude...))
			mu.Unlock()
			return genai.StaticCaseStream(
				domain.CaseStudy{Title: fmt.Sprintf("事例%d", len(exclude)+1)},
				domain.CaseStudy{Title: fmt.Sprintf("事例%d", len(exclude)+2)},
			), nil
		},
	}
	srv, ts := newTestServer(t, gen)
	id, token := createTestConversation(t, ts)

	// First view creates the live session.
	resp := doJSON(t, "GET", ts.URL+"/api/conversations/"+id, token, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The widget streams the initial page through the direct endpoint.
	resp = doJSON(t, "POST", ts.URL+"/api/generate/cases", token,
		fmt.Sprintf(`{"conversationId":%q}`, id))
	_, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, "POST", ts.URL+"/api/conversations/"+id+"/cases/more", token, "")
	var out struct {
		Cases []domain.CaseStudy `json:"cases"`
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	assert.Len(t, out.Cases, 4)

	// The pager's fetch must exclude the titles the stream delivered.
	mu.Lock()
	require.Len(t, excludes, 2)
	assert.Empty(t, excludes[0])
	assert.Equal(t, []string{"事例1", "事例2"}, excludes[1])
	mu.Unlock()

	// The record accumulates both pages, streamed and paged.
	stored, err := srv.conversations.Get(id)
	require.NoError(t, err)
	var titles []string
	for _, c := range stored.Cases {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"事例1", "事例2", "事例3", "事例4"}, titles)
}

func TestUnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
