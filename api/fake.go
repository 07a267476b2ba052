package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Upload is one save request as received by FakeServer.
type Upload struct {
	ID         string
	Title      string
	Duration   float64
	Transcript []Segment
	Audio      []byte
	AudioType  string
}

// FakeServer is an in-process recording service for tests and demos.
// It records the order of calls so callers can assert sequencing.
type FakeServer struct {
	*httptest.Server

	mu         sync.Mutex
	token      string
	usage      Usage
	saveID     string
	shareToken string
	saveFails  int
	shared     map[string]SharedRecording
	expired    map[string]bool
	calls      []string
	uploads    []Upload
	inits      map[string]string
}

func NewFakeServer(token string) *FakeServer {
	f := &FakeServer{
		token:      token,
		usage:      Usage{Tier: "free", LimitSeconds: 600, RemainingSeconds: 600},
		shareToken: "share-token",
		shared:     map[string]SharedRecording{},
		expired:    map[string]bool{},
		inits:      map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/usage", f.auth(f.handleUsage))
	mux.HandleFunc("POST /api/recordings/init", f.auth(f.handleInit))
	mux.HandleFunc("POST /api/recordings", f.auth(f.handleSave))
	mux.HandleFunc("POST /api/recordings/{id}/share", f.auth(f.handleShare))
	mux.HandleFunc("GET /api/share/{token}", f.auth(f.handleShared))
	f.Server = httptest.NewServer(mux)
	return f
}

// Client returns an api.Client pointed at the fake with its token.
func (f *FakeServer) Client(shareTemplate string) *Client {
	return NewClient(Options{BaseURL: f.URL, Tokens: StaticToken(f.token), ShareURLTemplate: shareTemplate})
}

func (f *FakeServer) SetUsage(u Usage) {
	f.mu.Lock()
	f.usage = u
	f.mu.Unlock()
}

// SetSaveID makes save return id instead of echoing the uploaded id.
func (f *FakeServer) SetSaveID(id string) {
	f.mu.Lock()
	f.saveID = id
	f.mu.Unlock()
}

func (f *FakeServer) SetShareToken(token string) {
	f.mu.Lock()
	f.shareToken = token
	f.mu.Unlock()
}

// FailSaves makes the next n save requests return 500.
func (f *FakeServer) FailSaves(n int) {
	f.mu.Lock()
	f.saveFails = n
	f.mu.Unlock()
}

func (f *FakeServer) AddShared(token string, rec SharedRecording, expired bool) {
	f.mu.Lock()
	f.shared[token] = rec
	f.expired[token] = expired
	f.mu.Unlock()
}

// Calls lists handled operations in order: usage, init, save, share, shared.
func (f *FakeServer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeServer) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

func (f *FakeServer) Initialized(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inits[id]
	return ok
}

func (f *FakeServer) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (f *FakeServer) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *FakeServer) handleUsage(w http.ResponseWriter, _ *http.Request) {
	f.record("usage")
	f.mu.Lock()
	u := f.usage
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (f *FakeServer) handleInit(w http.ResponseWriter, r *http.Request) {
	f.record("init")
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.inits[id] = r.FormValue("title")
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *FakeServer) handleSave(w http.ResponseWriter, r *http.Request) {
	f.record("save")
	f.mu.Lock()
	if f.saveFails > 0 {
		f.saveFails--
		f.mu.Unlock()
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	f.mu.Unlock()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up := Upload{ID: r.FormValue("id"), Title: r.FormValue("title")}
	dur, err := strconv.ParseFloat(r.FormValue("duration"), 64)
	if err != nil {
		http.Error(w, "bad duration", http.StatusBadRequest)
		return
	}
	up.Duration = dur
	if err := json.Unmarshal([]byte(r.FormValue("transcript")), &up.Transcript); err != nil {
		http.Error(w, "bad transcript", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "missing audio", http.StatusBadRequest)
		return
	}
	defer file.Close()
	up.Audio, _ = io.ReadAll(file)
	up.AudioType = hdr.Header.Get("Content-Type")

	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.inits[up.ID] = up.Title
	id := up.ID
	if f.saveID != "" {
		id = f.saveID
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *FakeServer) handleShare(w http.ResponseWriter, r *http.Request) {
	f.record("share")
	id := r.PathValue("id")
	var req struct {
		ExpiresInHours int `json:"expires_in_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExpiresInHours <= 0 {
		http.Error(w, "bad expiry", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	_, known := f.inits[id]
	token := f.shareToken
	f.mu.Unlock()
	if !known {
		http.Error(w, fmt.Sprintf("recording %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (f *FakeServer) handleShared(w http.ResponseWriter, r *http.Request) {
	f.record("shared")
	token := r.PathValue("token")
	f.mu.Lock()
	rec, ok := f.shared[token]
	expired := f.expired[token]
	f.mu.Unlock()
	switch {
	case !ok:
		http.Error(w, "not found", http.StatusNotFound)
	case expired:
		http.Error(w, "expired", http.StatusGone)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
