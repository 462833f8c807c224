package shotgrid

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shotpipe/shotpipe-agent/internal/catalog"
)

type memLedger struct {
	mu      sync.Mutex
	records []*catalog.UploadRecord
}

func (l *memLedger) HasUpload(ctx context.Context, key, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Key == key && r.Hash == hash && r.Status == catalog.UploadStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) RecordUpload(ctx context.Context, u *catalog.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, u)
	return nil
}

type stack struct {
	fake     *fakeShotgrid
	client   *HTTPClient
	entities *EntityManager
	links    *LinkManager
	uploader *Uploader
	ledger   *memLedger
}

func newStack(t *testing.T, chunk int64) *stack {
	t.Helper()
	fake := newFakeShotgrid(t)
	client := fake.client(chunk)
	entities := NewEntityManager(client, testLogger())
	links := NewLinkManager(client, entities, testLogger())
	ledger := &memLedger{}
	up := NewUploader(client, entities, links, ledger, testLogger())
	up.retryDelay = time.Millisecond
	return &stack{fake: fake, client: client, entities: entities, links: links, uploader: up, ledger: ledger}
}

func processedRecord(t *testing.T, content string) *catalog.FileRecord {
	t.Helper()
	path := filepath.Join(t.TempDir(), "KIAP_c010_txtToImage_v0001.png")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return &catalog.FileRecord{
		SourcePath:        "/in/KIAP_c010_raw.png",
		FileName:          "KIAP_c010_raw.png",
		FileType:          catalog.FileTypeImage,
		Metadata:          map[string]any{"width": 64, "notes": strings.Repeat("x", 1000)},
		Sequence:          "KIAP",
		Shot:              "c010",
		Task:              "txtToImage",
		Version:           1,
		ProcessedPath:     path,
		ProcessedFilename: filepath.Base(path),
		Processed:         true,
		Success:           true,
		ContentHash:       "hash-1",
	}
}

func TestHTTPClient_TokenCachedAndShared(t *testing.T) {
	s := newStack(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.client.Find(ctx, TypeProject, Query{}); err != nil {
				t.Errorf("Find() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := s.client.Find(ctx, TypeProject, Query{}); err != nil {
		t.Fatalf("Find() error = %v", err)
	}

	if n := s.fake.authCalls.Load(); n != 1 {
		t.Errorf("auth calls = %d, want 1", n)
	}
	if !s.client.IsConnected() {
		t.Error("IsConnected() = false after successful auth")
	}
	if s.client.ServerURL() != s.fake.srv.URL {
		t.Errorf("ServerURL() = %s, want %s", s.client.ServerURL(), s.fake.srv.URL)
	}
}

func TestHTTPClient_BadCredentials(t *testing.T) {
	fake := newFakeShotgrid(t)
	c := NewHTTPClient(fake.srv.URL, testScript, "wrong", 0, 5, testLogger())

	err := c.Connect(context.Background())
	var cerr *RemoteConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Connect() error = %v, want *RemoteConnectionError", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed auth")
	}

	c.UpdateCredentials(fake.srv.URL+"/", testScript, testKey)
	if err := c.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection() after UpdateCredentials error = %v", err)
	}
}

func TestEntityManager_EnsureEntitiesIdempotent(t *testing.T) {
	s := newStack(t, 0)
	ctx := context.Background()
	user := s.fake.seed(TypeHumanUser, map[string]any{"name": "Ari", "email": "ari@example.com"})

	req := EnsureRequest{Project: "DEMO", Sequence: "KIAP", Shot: "c010", Task: "txtToImage", UserEmail: "ari@example.com", Status: "wip"}
	first, err := s.entities.EnsureEntities(ctx, req)
	if err != nil {
		t.Fatalf("EnsureEntities() error = %v", err)
	}
	if first.Project.Name() != "DEMO" || first.Sequence.Name() != "KIAP" || first.Shot.Name() != "c010" || first.Task.Name() != "txtToImage" {
		t.Errorf("entities = %+v", first)
	}
	if first.User == nil || first.User.ID != user.ID {
		t.Errorf("User = %+v, want seeded user", first.User)
	}

	task := s.fake.get(TypeTask, first.Task.ID)
	if task.Attributes["sg_status_list"] != "wip" {
		t.Errorf("task status = %v", task.Attributes["sg_status_list"])
	}
	assignees, _ := task.Attributes["task_assignees"].([]any)
	if len(assignees) != 1 {
		t.Errorf("task_assignees = %v, want the user", task.Attributes["task_assignees"])
	}

	second, err := s.entities.EnsureEntities(ctx, req)
	if err != nil {
		t.Fatalf("second EnsureEntities() error = %v", err)
	}
	if second.Task.ID != first.Task.ID || second.Shot.ID != first.Shot.ID {
		t.Error("second EnsureEntities() returned different entities")
	}
	for _, typ := range []string{TypeProject, TypeSequence, TypeShot, TypeTask} {
		if n := s.fake.count(typ); n != 1 {
			t.Errorf("%s count = %d, want 1", typ, n)
		}
	}
}

func TestEntityManager_ReadsDegrade(t *testing.T) {
	s := newStack(t, 0)
	s.fake.searchStatus = http.StatusInternalServerError
	ctx := context.Background()

	if p := s.entities.FindProject(ctx, "DEMO"); p != nil {
		t.Errorf("FindProject() = %+v, want nil", p)
	}
	if ps := s.entities.ListProjects(ctx); ps != nil {
		t.Errorf("ListProjects() = %v, want nil", ps)
	}
	_, err := s.entities.CreateProject(ctx, "DEMO")
	var merr *RemoteMutationError
	if !errors.As(err, &merr) || !merr.IsRetryable() {
		t.Errorf("CreateProject() error = %v, want retryable *RemoteMutationError", err)
	}
}

func TestEntityManager_ListProjectsActiveOnly(t *testing.T) {
	s := newStack(t, 0)
	s.fake.seed(TypeProject, map[string]any{"name": "Live", "sg_status": "Active"})
	s.fake.seed(TypeProject, map[string]any{"name": "Old", "sg_status": "Archive"})

	ps := s.entities.ListProjects(context.Background())
	if len(ps) != 1 || ps[0].Name() != "Live" {
		t.Errorf("ListProjects() = %+v, want only Live", ps)
	}
}

func TestUploader_UploadRecord(t *testing.T) {
	s := newStack(t, 0)
	ctx := context.Background()
	rec := processedRecord(t, "media bytes")
	opts := UploadOptions{Project: "DEMO", BatchID: "b1", TaskStatus: "wip", CreatePublishedFiles: true}

	res, err := s.uploader.UploadRecord(ctx, rec, opts)
	if err != nil {
		t.Fatalf("UploadRecord() error = %v", err)
	}
	if !res.Success || res.Field != "sg_uploaded_movie" || res.VersionID == 0 || res.PublishedFileID == 0 {
		t.Errorf("result = %+v", res)
	}
	wantURL := s.fake.srv.URL + "/detail/Version/" + strconv.Itoa(res.VersionID)
	if res.VersionURL != wantURL {
		t.Errorf("VersionURL = %s, want %s", res.VersionURL, wantURL)
	}

	v := s.fake.get(TypeVersion, res.VersionID)
	if v.Attributes["code"] != rec.ProcessedFilename || v.Attributes["sg_status_list"] != "wip" {
		t.Errorf("version attrs = %v", v.Attributes)
	}
	desc, _ := v.Attributes["description"].(string)
	if !strings.HasPrefix(desc, "Uploaded by ShotPipe - v0001") || !strings.Contains(desc, "Metadata: ") {
		t.Errorf("description = %q", desc)
	}
	if n := len([]rune(desc[strings.Index(desc, "Metadata: ")+len("Metadata: "):])); n != metadataExcerptLen {
		t.Errorf("metadata excerpt length = %d, want %d", n, metadataExcerptLen)
	}
	if string(s.fake.uploaded["sg_uploaded_movie"]) != "media bytes" {
		t.Errorf("uploaded = %q", s.fake.uploaded["sg_uploaded_movie"])
	}
	if len(s.fake.completed) != 1 {
		t.Errorf("complete_upload calls = %d, want 1", len(s.fake.completed))
	}

	if len(s.ledger.records) != 1 || s.ledger.records[0].Status != catalog.UploadStatusSuccess || s.ledger.records[0].Key != "DEMO_KIAP_c010_txtToImage_v0001" {
		t.Fatalf("ledger = %+v", s.ledger.records)
	}

	res, err = s.uploader.UploadRecord(ctx, rec, opts)
	if err != nil || !res.Skipped {
		t.Errorf("second upload = %+v, %v; want skipped", res, err)
	}
	if s.fake.count(TypeVersion) != 1 {
		t.Errorf("versions = %d, want 1 after duplicate skip", s.fake.count(TypeVersion))
	}

	opts.Force = true
	if res, err = s.uploader.UploadRecord(ctx, rec, opts); err != nil || res.Skipped {
		t.Errorf("forced upload = %+v, %v", res, err)
	}
	if s.fake.count(TypeVersion) != 2 {
		t.Errorf("versions = %d, want 2 after forced upload", s.fake.count(TypeVersion))
	}
}

func TestUploader_RetriesThenSucceeds(t *testing.T) {
	s := newStack(t, 0)
	s.fake.fieldFailures["sg_uploaded_movie"] = []int{500, 503}

	res, err := s.uploader.UploadRecord(context.Background(), processedRecord(t, "x"), UploadOptions{Project: "DEMO"})
	if err != nil {
		t.Fatalf("UploadRecord() error = %v", err)
	}
	if res.Field != "sg_uploaded_movie" {
		t.Errorf("Field = %s, want sg_uploaded_movie after retries", res.Field)
	}
}

func TestUploader_FieldFallback(t *testing.T) {
	s := newStack(t, 0)
	s.fake.fieldFailures["sg_uploaded_movie"] = []int{-1}

	res, err := s.uploader.UploadRecord(context.Background(), processedRecord(t, "x"), UploadOptions{Project: "DEMO"})
	if err != nil {
		t.Fatalf("UploadRecord() error = %v", err)
	}
	if res.Field != "sg_uploaded_file" {
		t.Errorf("Field = %s, want sg_uploaded_file", res.Field)
	}
}

func TestUploader_AllFieldsFail(t *testing.T) {
	s := newStack(t, 0)
	for _, f := range MediaFields {
		s.fake.fieldFailures[f] = []int{-1}
	}
	rec := processedRecord(t, "x")
	res, err := s.uploader.UploadRecord(context.Background(), rec, UploadOptions{Project: "DEMO"})
	var merr *RemoteMutationError
	if !errors.As(err, &merr) {
		t.Fatalf("UploadRecord() error = %v, want *RemoteMutationError", err)
	}
	if merr.StatusCode != http.StatusBadRequest || merr.IsRetryable() || merr.Path != rec.ProcessedPath {
		t.Errorf("error = %+v", merr)
	}
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if len(s.ledger.records) != 1 || s.ledger.records[0].Status != catalog.UploadStatusFailed {
		t.Errorf("ledger = %+v, want one failed entry", s.ledger.records)
	}
}

func TestHTTPClient_MultipartUpload(t *testing.T) {
	s := newStack(t, 4)
	rec := processedRecord(t, "0123456789")

	res, err := s.uploader.UploadRecord(context.Background(), rec, UploadOptions{Project: "DEMO"})
	if err != nil {
		t.Fatalf("UploadRecord() error = %v", err)
	}
	if got := string(s.fake.uploaded[res.Field]); got != "0123456789" {
		t.Errorf("reassembled upload = %q", got)
	}
	if s.fake.parts != 3 {
		t.Errorf("parts = %d, want 3", s.fake.parts)
	}
	info, _ := s.fake.completed[0]["upload_info"].(map[string]any)
	if etags, _ := info["etags"].([]any); len(etags) != 3 {
		t.Errorf("etags = %v, want 3", info["etags"])
	}
}

func TestUploader_UploadBatch(t *testing.T) {
	s := newStack(t, 0)
	good := processedRecord(t, "a")
	failed := &catalog.FileRecord{FileName: "bad.png", Success: false}
	missing := processedRecord(t, "b")
	missing.ProcessedPath = filepath.Join(t.TempDir(), "gone.png")
	missing.ContentHash = "hash-2"

	var calls int
	summary, err := s.uploader.UploadBatch(context.Background(), []*catalog.FileRecord{good, failed, missing}, UploadOptions{Project: "DEMO"}, func(done, total int, res *UploadResult) {
		calls++
		if total != 3 || done != calls {
			t.Errorf("progress(%d, %d)", done, total)
		}
	})
	if err != nil {
		t.Fatalf("UploadBatch() error = %v", err)
	}
	if summary.Succeeded != 1 || summary.Skipped != 1 || summary.Failed != 1 || calls != 3 {
		t.Errorf("summary = %+v, calls = %d", summary, calls)
	}
}

func TestStubClient(t *testing.T) {
	stub := NewStubClient(testLogger())
	ctx := context.Background()

	if found, err := stub.Find(ctx, TypeProject, Query{}); err != nil || len(found) != 0 {
		t.Errorf("Find() = %v, %v; want empty", found, err)
	}
	_, err := stub.Create(ctx, TypeProject, nil)
	var cerr *RemoteConnectionError
	if !errors.As(err, &cerr) || !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Create() error = %v, want *RemoteConnectionError", err)
	}

	entities := NewEntityManager(stub, testLogger())
	up := NewUploader(stub, entities, NewLinkManager(stub, entities, testLogger()), nil, testLogger())
	_, err = up.UploadRecord(ctx, processedRecord(t, "x"), UploadOptions{Project: "DEMO"})
	var merr *RemoteMutationError
	if !errors.As(err, &merr) || !errors.As(err, &cerr) {
		t.Errorf("UploadRecord() via stub error = %v, want mutation wrapping connection error", err)
	}
	if merr != nil && merr.IsRetryable() {
		t.Error("unconfigured upload should not be retryable")
	}
}

func TestRemoteMutationError_IsRetryable(t *testing.T) {
	tests := []struct {
		err  *RemoteMutationError
		want bool
	}{
		{&RemoteMutationError{StatusCode: 500}, true},
		{&RemoteMutationError{StatusCode: 502}, true},
		{&RemoteMutationError{StatusCode: 400}, false},
		{&RemoteMutationError{StatusCode: 404}, false},
		{&RemoteMutationError{Err: errors.New("connection reset")}, true},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("%v IsRetryable() = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestLinkManager(t *testing.T) {
	s := newStack(t, 0)
	ctx := context.Background()

	if got := s.links.EntityURL(TypeShot, 7); got != s.fake.srv.URL+"/detail/Shot/7" {
		t.Errorf("EntityURL() = %s", got)
	}

	if got := s.links.SearchSimilar(ctx, "KIAP_c010_txtToImage_v0003.png", "DEMO", ""); got != nil {
		t.Errorf("SearchSimilar() before connect = %v, want nil", got)
	}
	if err := s.client.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	proj := s.fake.seed(TypeProject, map[string]any{"name": "DEMO"})
	other := s.fake.seed(TypeProject, map[string]any{"name": "OTHER"})
	for _, code := range []string{"KIAP_c999_comp_v0001.mov", "KIAP_c010_txtToImage_v0002.png", "LIG_c010_txtToImage_v0001.png"} {
		s.fake.seed(TypeVersion, map[string]any{"code": code, "project": proj.Ref()})
	}
	s.fake.seed(TypeVersion, map[string]any{"code": "KIAP_c010_txtToImage_v0001.png", "project": other.Ref()})

	got := s.links.SearchSimilar(ctx, "KIAP_c010_txtToImage_v0003.png", "DEMO", "")
	if len(got) != 2 {
		t.Fatalf("SearchSimilar() = %d results, want 2", len(got))
	}
	if got[0].Attr("code") != "KIAP_c010_txtToImage_v0002.png" || got[0].Score <= got[1].Score {
		t.Errorf("SearchSimilar() order = %s (%.2f), %s (%.2f)", got[0].Attr("code"), got[0].Score, got[1].Attr("code"), got[1].Score)
	}
	if !strings.HasSuffix(got[0].URL, "/detail/Version/"+strconv.Itoa(got[0].ID)) {
		t.Errorf("URL = %s", got[0].URL)
	}

	version := got[0]
	s.fake.seed(TypePublishedFile, map[string]any{"code": "pf", "version": version.Ref()})
	links := s.links.FileLinks(ctx, version.ID)
	if links == nil || len(links.PublishedFiles) != 1 || links.Version.ID != version.ID {
		t.Errorf("FileLinks() = %+v", links)
	}

	if vs := s.links.ExistingVersions(ctx, "NOPE", "", ""); vs != nil {
		t.Errorf("ExistingVersions(unknown project) = %v", vs)
	}
	if vs := s.links.ExistingVersions(ctx, "DEMO", "", ""); len(vs) != 3 {
		t.Errorf("ExistingVersions(DEMO) = %d, want 3", len(vs))
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1},
		{"ABC", "abc", 1},
		{"abcd", "abce", 0.75},
		{"", "", 1},
		{"abc", "", 0},
		{"café", "café", 1},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); got != tt.want {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBaseToken(t *testing.T) {
	tests := map[string]string{
		"KIAP_c010_txtToImage_v0003.png": "KIAP",
		"render_v001.exr":                "render",
		"plain.mov":                      "plain",
		"noext":                          "noext",
	}
	for in, want := range tests {
		if got := BaseToken(in); got != want {
			t.Errorf("BaseToken(%q) = %q, want %q", in, got, want)
		}
	}
}
