package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
	chatservice "github.com/zhouzirui/ligochat/internal/service/chat"
	"github.com/zhouzirui/ligochat/internal/service/session"
	"github.com/zhouzirui/ligochat/internal/service/session/sessiontest"
)

type harness struct {
	router *chi.Mux
	svc    *chatservice.Service

	mu         sync.Mutex
	transports []*sessiontest.Transport
}

func setupRouter(t *testing.T) *harness {
	t.Helper()

	h := &harness{}
	h.svc = chatservice.NewService(func() session.Transport {
		tr := sessiontest.NewTransport()
		h.mu.Lock()
		h.transports = append(h.transports, tr)
		h.mu.Unlock()
		return tr
	}, zerolog.Nop())
	t.Cleanup(func() { _ = h.svc.CloseAll() })

	h.router = chi.NewRouter()
	New(h.svc).WithKeepAlive(50 * time.Millisecond).RegisterRoutes(h.router)
	return h
}

func (h *harness) transport(i int) *sessiontest.Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func (h *harness) view(t *testing.T, id string) view.ViewModel {
	t.Helper()
	resp := h.do(http.MethodGet, "/sessions/"+id, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("GET session: expected 200, got %d", resp.Code)
	}
	var vm view.ViewModel
	if err := json.Unmarshal(resp.Body.Bytes(), &vm); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return vm
}

func (h *harness) waitStatus(t *testing.T, id string, want chat.Status) view.ViewModel {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		vm := h.view(t, id)
		if vm.Status == want {
			return vm
		}
		if time.Now().After(deadline) {
			t.Fatalf("status: got %s want %s", vm.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// create opens a session for username and waits until it is connected.
func (h *harness) create(t *testing.T, username string) string {
	t.Helper()
	resp := h.do(http.MethodPost, "/sessions", `{"username":"`+username+`"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload createSessionResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if payload.ID == "" || payload.View.Username != username {
		t.Fatalf("unexpected create response: %+v", payload)
	}
	h.waitStatus(t, payload.ID, chat.StatusConnected)
	return payload.ID
}

func TestCreateSession(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	vm := h.view(t, id)
	if vm.StatusLabel != "Connected" || !vm.CanSend {
		t.Fatalf("unexpected view: %+v", vm)
	}

	pubs := h.transport(0).Published()
	if len(pubs) != 1 || pubs[0].Destination != chat.DestinationAnnounce {
		t.Fatalf("expected join announcement, got %+v", pubs)
	}
}

func TestCreateSessionMissingUsername(t *testing.T) {
	h := setupRouter(t)

	for _, body := range []string{`{}`, `{"username":"  "}`, `not json`, ``} {
		resp := h.do(http.MethodPost, "/sessions", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestUnknownSession(t *testing.T) {
	h := setupRouter(t)

	cases := []struct{ method, path, body string }{
		{http.MethodGet, "/sessions/missing", ""},
		{http.MethodDelete, "/sessions/missing", ""},
		{http.MethodPost, "/sessions/missing/messages", `{"text":"hi"}`},
		{http.MethodGet, "/sessions/missing/stream", ""},
	}
	for _, tc := range cases {
		if resp := h.do(tc.method, tc.path, tc.body); resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestSendMessage(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	resp := h.do(http.MethodPost, "/sessions/"+id+"/messages", `{"text":"annyeong","translationMode":"ko"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	pubs := h.transport(0).Published()
	if len(pubs) != 2 || pubs[1].Destination != chat.DestinationSend {
		t.Fatalf("unexpected publishes: %+v", pubs)
	}
	var sent chat.Message
	if err := json.Unmarshal(pubs[1].Payload, &sent); err != nil {
		t.Fatalf("decode publish: %v", err)
	}
	if sent.Sender != "alice" || sent.Content != "annyeong" || sent.TranslationMode != chat.TranslationKorean {
		t.Fatalf("unexpected record: %+v", sent)
	}
}

func TestSendMessageRejected(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	cases := map[string]string{
		"empty text": `{"text":""}`,
		"bad mode":   `{"text":"bonjour","translationMode":"fr"}`,
		"bad body":   `{"text":`,
	}
	for name, body := range cases {
		if resp := h.do(http.MethodPost, "/sessions/"+id+"/messages", body); resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
	}
	if n := len(h.transport(0).Published()); n != 1 {
		t.Fatalf("expected only the join announcement, got %d publishes", n)
	}
}

func TestSendAfterDisconnect(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	h.transport(0).Close(nil)
	vm := h.waitStatus(t, id, chat.StatusDisconnected)
	if vm.CanSend {
		t.Fatal("disconnected session should not allow sending")
	}

	for _, path := range []string{"/messages", "/grammar", "/bot"} {
		resp := h.do(http.MethodPost, "/sessions/"+id+path, `{"text":"hello"}`)
		if resp.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", path, resp.Code)
		}
	}
}

func TestGrammarBannerLifecycle(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/grammar", `{"text":"I is happy"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	h.transport(0).Push(chat.QueueGrammarResult, `{"content":"Corrected: I am happy","type":"GRAMMAR_RESULT"}`)

	vm := h.view(t, id)
	banner, ok := vm.Banner(view.BannerGrammar)
	if !ok || banner.Text != "Corrected: I am happy" || banner.Title != "Checked" {
		t.Fatalf("unexpected banners: %+v", vm.Banners)
	}

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/banners/grammar/dismiss", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, ok := h.view(t, id).Banner(view.BannerGrammar); ok {
		t.Fatal("dismissed banner still shown")
	}

	// A new request brings the banner back with the previous result.
	if resp := h.do(http.MethodPost, "/sessions/"+id+"/grammar", `{"text":"she go"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if _, ok := h.view(t, id).Banner(view.BannerGrammar); !ok {
		t.Fatal("banner should be restored by a new request")
	}
}

func TestAskBot(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/bot", `{"text":"what is a noun?"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	pubs := h.transport(0).Published()
	if last := pubs[len(pubs)-1]; last.Destination != chat.DestinationBotAsk {
		t.Fatalf("unexpected destination %s", last.Destination)
	}

	h.transport(0).Push(chat.QueueBotResult, `{"content":"A naming word."}`)
	banner, ok := h.view(t, id).Banner(view.BannerBot)
	if !ok || banner.Title != "LigoBot" || banner.Text != "A naming word." {
		t.Fatalf("unexpected bot banner: %+v", banner)
	}
}

func TestDismissUnknownBanner(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/banners/weather/dismiss", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestCloseSession(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	if resp := h.do(http.MethodDelete, "/sessions/"+id, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := h.do(http.MethodGet, "/sessions/"+id, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", resp.Code)
	}
	if n := h.transport(0).Disconnects(); n == 0 {
		t.Fatal("transport was not disconnected")
	}
}

func TestStats(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")
	h.transport(0).Push(chat.TopicPublicFeed, `garbage`)

	resp := h.do(http.MethodGet, "/sessions/"+id+"/stats", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var stats session.Stats
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Dropped != 1 || stats.Published != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) (sseEvent, bool) {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" {
				return ev, true
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return ev, false
}

func TestStreamPushesViews(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	decode := func(ev sseEvent) view.ViewModel {
		t.Helper()
		if ev.name != "view" {
			t.Fatalf("unexpected event %q", ev.name)
		}
		var vm view.ViewModel
		if err := json.Unmarshal([]byte(ev.data), &vm); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return vm
	}

	ev, ok := readEvent(t, sc)
	if !ok {
		t.Fatal("stream closed before first event")
	}
	if vm := decode(ev); vm.Status != chat.StatusConnected || len(vm.Rows) != 0 {
		t.Fatalf("unexpected initial view: %+v", vm)
	}

	h.transport(0).Push(chat.TopicPublicFeed, `{"sender":"bob","content":"hi","type":"CHAT"}`)
	ev, ok = readEvent(t, sc)
	if !ok {
		t.Fatal("stream closed before feed update")
	}
	vm := decode(ev)
	if len(vm.Rows) != 1 || vm.Rows[0].Text != "hi" {
		t.Fatalf("unexpected rows: %+v", vm.Rows)
	}

	if resp := h.do(http.MethodDelete, "/sessions/"+id, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	for {
		ev, ok = readEvent(t, sc)
		if !ok {
			t.Fatal("stream closed without a terminal view")
		}
		if decode(ev).Status == chat.StatusDisconnected {
			break
		}
	}
	if _, ok := readEvent(t, sc); ok {
		t.Fatal("stream should end after a terminal view")
	}
}

func TestStreamShowsBannerDismissal(t *testing.T) {
	h := setupRouter(t)
	id := h.create(t, "alice")
	h.transport(0).Push(chat.QueueGrammarResult, `{"content":"She goes."}`)

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	nextBanners := func() int {
		t.Helper()
		ev, ok := readEvent(t, sc)
		if !ok {
			t.Fatal("stream closed early")
		}
		var vm view.ViewModel
		if err := json.Unmarshal([]byte(ev.data), &vm); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return len(vm.Banners)
	}

	if n := nextBanners(); n != 1 {
		t.Fatalf("expected grammar banner in initial view, got %d banners", n)
	}

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/banners/grammar/dismiss", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if n := nextBanners(); n != 0 {
		t.Fatalf("expected banner hidden after dismiss, got %d banners", n)
	}

	if resp := h.do(http.MethodPost, "/sessions/"+id+"/grammar", `{"text":"she go"}`); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if n := nextBanners(); n != 1 {
		t.Fatalf("expected banner restored by a new request, got %d banners", n)
	}
}
