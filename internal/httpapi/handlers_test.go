package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/arena/internal/arena"
	"github.com/prepdeck/arena/internal/auth"
	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/store"
)

type noopBroadcaster struct{}

func (noopBroadcaster) ToRoom(string, events.EventType, any) {}

// newTestAPI wires the REST facade over a real core with a Redis-backed store.
func newTestAPI(t *testing.T) (*httprouter.Router, *auth.HMACVerifier) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	app := arena.NewApp(store.NewRedisStore(rdb), noopBroadcaster{}, nil, clk, arena.Config{})
	verifier := auth.NewHMACVerifier("test-secret", clk)

	router := httprouter.New()
	NewHandler(app, verifier).Register(router)
	return router, verifier
}

func tokenFor(t *testing.T, v *auth.HMACVerifier, userID, name string) string {
	t.Helper()
	token, err := v.Sign(auth.Identity{UserID: userID, Name: name}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return token
}

func doRequest(t *testing.T, router *httprouter.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("undecodable response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRequiresAuthentication(t *testing.T) {
	router, _ := newTestAPI(t)

	for _, token := range []string{"", "garbage-token"} {
		rec := doRequest(t, router, http.MethodPost, "/api/rooms", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
	}
}

func TestCreateAndFetchRoom(t *testing.T) {
	router, v := newTestAPI(t)
	token := tokenFor(t, v, "u1", "Alice")

	rec := doRequest(t, router, http.MethodPost, "/api/rooms", token, map[string]any{
		"questions": []string{"Q1?", "Q2?"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	roomID, _ := created["roomId"].(string)
	if roomID == "" || created["success"] != true {
		t.Fatalf("unexpected create response: %v", created)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/rooms/"+roomID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	fetched := decodeBody(t, rec)
	room := fetched["room"].(map[string]any)
	if room["status"] != "waiting" {
		t.Fatalf("expected waiting room, got %v", room["status"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/rooms/no-such-room", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing room: expected 404, got %d", rec.Code)
	}
}

func TestFullCompetitionOverREST(t *testing.T) {
	router, v := newTestAPI(t)
	creator := tokenFor(t, v, "u1", "Alice")

	rec := doRequest(t, router, http.MethodPost, "/api/rooms", creator, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", rec.Code, rec.Body.String())
	}
	roomID := decodeBody(t, rec)["roomId"].(string)

	// Three more joins fill the room; the last one activates it.
	tokens := map[string]string{"u1": creator}
	for i := 2; i <= 4; i++ {
		userID := fmt.Sprintf("u%d", i)
		tokens[userID] = tokenFor(t, v, userID, "user "+userID)
		rec = doRequest(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", tokens[userID], nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("join %s: %d: %s", userID, rec.Code, rec.Body.String())
		}
	}
	room := decodeBody(t, rec)["room"].(map[string]any)
	if room["status"] != "active" {
		t.Fatalf("expected active room after 4th join, got %v", room["status"])
	}

	// A 5th user is turned away.
	outsider := tokenFor(t, v, "u5", "user u5")
	rec = doRequest(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", outsider, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("5th join: expected 400, got %d", rec.Code)
	}

	// All four submit; scores descend with the user index.
	for i := 1; i <= 4; i++ {
		userID := fmt.Sprintf("u%d", i)
		score := 100 - i*10
		rec = doRequest(t, router, http.MethodPost, "/api/rooms/"+roomID+"/answer", tokens[userID], map[string]any{
			"scores": map[string]int{"clarity": score, "confidence": score, "applicability": score},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("answer %s: %d: %s", userID, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if int(body["currentScore"].(float64)) != score {
			t.Fatalf("answer %s: currentScore = %v, want %d", userID, body["currentScore"], score)
		}
	}

	// A repeat submission is rejected.
	rec = doRequest(t, router, http.MethodPost, "/api/rooms/"+roomID+"/answer", tokens["u1"], map[string]any{
		"scores": map[string]int{"clarity": 99, "confidence": 99, "applicability": 99},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate answer: expected 400, got %d", rec.Code)
	}

	// The completed room serves its final leaderboard from the store.
	rec = doRequest(t, router, http.MethodGet, "/api/rooms/"+roomID+"/leaderboard", creator, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: %d: %s", rec.Code, rec.Body.String())
	}
	board := decodeBody(t, rec)["leaderboard"].([]any)
	if len(board) != 4 {
		t.Fatalf("expected 4 leaderboard entries, got %d", len(board))
	}
	top := board[0].(map[string]any)
	if top["userId"] != "u1" || int(top["rank"].(float64)) != 1 {
		t.Fatalf("unexpected leader: %v", top)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/rooms/"+roomID, creator, nil)
	room = decodeBody(t, rec)["room"].(map[string]any)
	if room["status"] != "completed" {
		t.Fatalf("expected completed room, got %v", room["status"])
	}
}

func TestStartAndCompleteEndpoints(t *testing.T) {
	router, v := newTestAPI(t)
	token := tokenFor(t, v, "u1", "Alice")

	rec := doRequest(t, router, http.MethodPost, "/api/rooms", token, nil)
	roomID := decodeBody(t, rec)["roomId"].(string)

	rec = doRequest(t, router, http.MethodPut, "/api/rooms/"+roomID+"/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["startTime"] == nil {
		t.Fatalf("start response missing startTime")
	}

	rec = doRequest(t, router, http.MethodPost, "/api/rooms/"+roomID+"/answer", token, map[string]any{
		"scores": map[string]int{"clarity": 80, "confidence": 70, "applicability": 90},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer: %d: %s", rec.Code, rec.Body.String())
	}

	// One participant, one submission: the room already completed itself, so
	// the explicit complete call replays the stored result.
	rec = doRequest(t, router, http.MethodPut, "/api/rooms/"+roomID+"/complete", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d: %s", rec.Code, rec.Body.String())
	}
	board := decodeBody(t, rec)["leaderboard"].([]any)
	if len(board) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(board))
	}
}

func TestUserRoomsEndpoint(t *testing.T) {
	router, v := newTestAPI(t)
	token := tokenFor(t, v, "u1", "Alice")

	rec := doRequest(t, router, http.MethodGet, "/api/rooms", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty list: %d", rec.Code)
	}
	if rooms := decodeBody(t, rec)["rooms"].([]any); len(rooms) != 0 {
		t.Fatalf("expected empty room list, got %v", rooms)
	}

	doRequest(t, router, http.MethodPost, "/api/rooms", token, nil)
	doRequest(t, router, http.MethodPost, "/api/rooms", token, nil)

	rec = doRequest(t, router, http.MethodGet, "/api/rooms", token, nil)
	if rooms := decodeBody(t, rec)["rooms"].([]any); len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}
