package shotgrid

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	testScript = "shotpipe"
	testKey    = "secret-key"
	testToken  = "tok-123"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeShotgrid is an in-memory REST server covering the endpoints the
// client uses.
type fakeShotgrid struct {
	t   *testing.T
	srv *httptest.Server

	authCalls   atomic.Int32
	searchCalls atomic.Int32

	mu       sync.Mutex
	nextID   int
	entities map[string][]Entity
	creates  map[string]int
	updates  []map[string]any

	// fieldFailures maps an upload field to queued HTTP statuses returned
	// by the storage PUT before it succeeds. -1 always returns 400.
	fieldFailures map[string][]int
	uploaded      map[string][]byte
	parts         int
	completed     []map[string]any
	searchStatus  int
}

func newFakeShotgrid(t *testing.T) *fakeShotgrid {
	f := &fakeShotgrid{
		t:             t,
		nextID:        100,
		entities:      make(map[string][]Entity),
		creates:       make(map[string]int),
		fieldFailures: make(map[string][]int),
		uploaded:      make(map[string][]byte),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/access_token", f.auth)
	mux.HandleFunc("POST /api/v1/entity/{entity}/_search", f.authed(f.search))
	mux.HandleFunc("POST /api/v1/entity/{entity}", f.authed(f.create))
	mux.HandleFunc("PUT /api/v1/entity/{entity}/{id}", f.authed(f.update))
	mux.HandleFunc("GET /api/v1/entity/{entity}/{id}/{field}/_upload", f.authed(f.startUpload))
	mux.HandleFunc("GET /api/v1/entity/{entity}/{id}/{field}/_upload/next", f.authed(f.nextPart))
	mux.HandleFunc("POST /api/v1/entity/{entity}/{id}/_upload", f.authed(f.completeUpload))
	mux.HandleFunc("PUT /storage/{field}", f.authed(f.storage))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeShotgrid) client(chunk int64) *HTTPClient {
	return NewHTTPClient(f.srv.URL+"/api3/json/", testScript, testKey, chunk, 5, testLogger())
}

func (f *fakeShotgrid) seed(entityType string, attrs map[string]any) Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e := Entity{Type: entityType, ID: f.nextID, Attributes: normalize(attrs)}
	f.entities[entityPath(entityType)] = append(f.entities[entityPath(entityType)], e)
	return e
}

func (f *fakeShotgrid) count(entityType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities[entityPath(entityType)])
}

func (f *fakeShotgrid) get(entityType string, id int) *Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entities[entityPath(entityType)] {
		if e.ID == id {
			return &f.entities[entityPath(entityType)][i]
		}
	}
	return nil
}

// normalize round-trips attrs through JSON so stored values look like
// decoded request values.
func normalize(attrs map[string]any) map[string]any {
	data, _ := json.Marshal(attrs)
	var out map[string]any
	json.Unmarshal(data, &out)
	return out
}

func (f *fakeShotgrid) auth(w http.ResponseWriter, r *http.Request) {
	f.authCalls.Add(1)
	r.ParseForm()
	if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != testScript || r.Form.Get("client_secret") != testKey {
		http.Error(w, `{"errors":[{"title":"bad credentials"}]}`, http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"token_type":   "Bearer",
		"access_token": testToken,
		"expires_in":   600,
	})
}

func (f *fakeShotgrid) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func matches(e Entity, filter []any) bool {
	field, _ := filter[0].(string)
	op, _ := filter[1].(string)
	want := filter[2]
	if strings.Contains(field, ".") {
		return true
	}
	var have any = e.Attributes[field]
	if field == "id" {
		have = float64(e.ID)
	}
	switch op {
	case "is":
		hm, hok := have.(map[string]any)
		wm, wok := want.(map[string]any)
		if hok && wok {
			return hm["type"] == wm["type"] && hm["id"] == wm["id"]
		}
		return reflect.DeepEqual(have, want)
	case "contains":
		s, _ := want.(string)
		return strings.Contains(fmt.Sprint(have), s)
	}
	return false
}

func (f *fakeShotgrid) search(w http.ResponseWriter, r *http.Request) {
	f.searchCalls.Add(1)
	if f.searchStatus != 0 {
		http.Error(w, "search broken", f.searchStatus)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != searchMediaType {
		f.t.Errorf("search content type = %q, want %q", ct, searchMediaType)
	}
	var body struct {
		Filters [][]any `json:"filters"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	limit, _ := strconv.Atoi(r.URL.Query().Get("page[size]"))

	f.mu.Lock()
	var out []Entity
	for _, e := range f.entities[r.PathValue("entity")] {
		ok := true
		for _, flt := range body.Filters {
			if !matches(e, flt) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	f.mu.Unlock()
	if out == nil {
		out = []Entity{}
	}
	json.NewEncoder(w).Encode(map[string]any{"data": out})
}

func typeForPath(p string) string {
	for t, path := range entityPaths {
		if path == p {
			return t
		}
	}
	return p
}

func (f *fakeShotgrid) create(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]any
	json.NewDecoder(r.Body).Decode(&attrs)
	f.mu.Lock()
	f.nextID++
	path := r.PathValue("entity")
	e := Entity{Type: typeForPath(path), ID: f.nextID, Attributes: attrs}
	f.entities[path] = append(f.entities[path], e)
	f.creates[e.Type]++
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"data": e})
}

func (f *fakeShotgrid) update(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]any
	json.NewDecoder(r.Body).Decode(&attrs)
	id, _ := strconv.Atoi(r.PathValue("id"))
	e := f.get(typeForPath(r.PathValue("entity")), id)
	if e == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	f.mu.Lock()
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	f.updates = append(f.updates, attrs)
	out := *e
	f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{"data": out})
}

func (f *fakeShotgrid) startUpload(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	if r.URL.Query().Get("filename") == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}
	links := map[string]string{
		"upload":          f.srv.URL + "/storage/" + field,
		"complete_upload": fmt.Sprintf("/api/v1/entity/%s/%s/_upload", r.PathValue("entity"), r.PathValue("id")),
	}
	if r.URL.Query().Get("multipart_upload") == "true" {
		links["get_next_part"] = fmt.Sprintf("/api/v1/entity/%s/%s/%s/_upload/next", r.PathValue("entity"), r.PathValue("id"), field)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"data":  map[string]any{"upload_id": "up-1", "field": field, "original_filename": r.URL.Query().Get("filename")},
		"links": links,
	})
}

func (f *fakeShotgrid) nextPart(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"links": map[string]string{
			"upload":        f.srv.URL + "/storage/" + r.PathValue("field"),
			"get_next_part": r.URL.Path,
		},
	})
}

func (f *fakeShotgrid) storage(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	f.mu.Lock()
	queue := f.fieldFailures[field]
	if len(queue) > 0 {
		status := queue[0]
		if status == -1 {
			f.mu.Unlock()
			http.Error(w, "field not valid", http.StatusBadRequest)
			return
		}
		f.fieldFailures[field] = queue[1:]
		f.mu.Unlock()
		http.Error(w, "storage unavailable", status)
		return
	}
	data, _ := io.ReadAll(r.Body)
	f.uploaded[field] = append(f.uploaded[field], data...)
	f.parts++
	etag := fmt.Sprintf(`"etag-%d"`, f.parts)
	f.mu.Unlock()
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeShotgrid) completeUpload(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.completed = append(f.completed, body)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
