package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

type fileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fileList struct {
	Files         []fileRef `json:"files"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

type fakeDrive struct {
	mu       sync.Mutex
	queries  []string
	created  []map[string]any
	uploads  []map[string]any
	media    []string
	existing map[string]string
	files    [][]fileRef
	status   int
	// commitThenFail stores this many uploads but answers 503.
	commitThenFail int
	committed      map[string]string
	// rejectUploads answers 503 to this many uploads without storing them.
	rejectUploads int
}

func (f *fakeDrive) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.status != 0 {
			http.Error(w, "drive says no", f.status)
			return
		}
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
			q := r.URL.Query().Get("q")
			f.queries = append(f.queries, q)
			if strings.Contains(q, folderMimeType+"' and trashed=false and name=") {
				for name, id := range f.existing {
					if strings.Contains(q, "name='"+name+"'") {
						_ = json.NewEncoder(w).Encode(fileList{Files: []fileRef{{ID: id, Name: name}}})
						return
					}
				}
				_ = json.NewEncoder(w).Encode(fileList{})
				return
			}
			for name, id := range f.committed {
				if strings.HasPrefix(q, "name='"+name+"'") {
					_ = json.NewEncoder(w).Encode(fileList{Files: []fileRef{{ID: id, Name: name}}})
					return
				}
			}
			if len(f.files) == 0 {
				_ = json.NewEncoder(w).Encode(fileList{})
				return
			}
			page := 0
			if token := r.URL.Query().Get("pageToken"); token == "p2" {
				page = 1
			}
			out := fileList{Files: f.files[page]}
			if page == 0 && len(f.files) > 1 {
				out.NextPageToken = "p2"
			}
			_ = json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/"):
			if f.rejectUploads > 0 {
				f.rejectUploads--
				http.Error(w, "backend error", http.StatusServiceUnavailable)
				return
			}
			if r.URL.Query().Get("uploadType") != "multipart" {
				t.Errorf("expected multipart upload, got %s", r.URL.RawQuery)
			}
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "multipart/related" {
				t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
				return
			}
			reader := multipart.NewReader(r.Body, params["boundary"])
			metaPart, _ := reader.NextPart()
			var meta map[string]any
			_ = json.NewDecoder(metaPart).Decode(&meta)
			f.uploads = append(f.uploads, meta)
			mediaPart, _ := reader.NextPart()
			raw, _ := io.ReadAll(mediaPart)
			f.media = append(f.media, mediaPart.Header.Get("Content-Type")+":"+string(raw))

			id := fmt.Sprintf("file-%d", len(f.uploads))
			if f.commitThenFail > 0 {
				f.commitThenFail--
				if f.committed == nil {
					f.committed = map[string]string{}
				}
				name, _ := meta["name"].(string)
				f.committed[name] = id
				http.Error(w, "backend error", http.StatusServiceUnavailable)
				return
			}
			_, _ = fmt.Fprintf(w, `{"id":%q}`, id)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode folder request: %v", err)
			}
			f.created = append(f.created, body)
			_, _ = w.Write([]byte(`{"id":"new-folder"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, fake *fakeDrive) *Client {
	t.Helper()
	return newTestClientWithExecutor(t, fake, nil)
}

func newTestClientWithExecutor(t *testing.T, fake *fakeDrive, executor *resilience.Executor) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	client, err := New(context.Background(), Options{
		RootFolderID: "root",
		Endpoint:     server.URL,
		HTTPClient:   server.Client(),
		Executor:     executor,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestResolveOrCreateFolderCreatesOnceAndCaches(t *testing.T) {
	fake := &fakeDrive{existing: map[string]string{}}
	client := newTestClient(t, fake)

	for i := 0; i < 2; i++ {
		id, err := client.ResolveOrCreateFolder(context.Background(), "Premios", "")
		if err != nil {
			t.Fatalf("ResolveOrCreateFolder() error = %v", err)
		}
		if id != "new-folder" {
			t.Fatalf("unexpected id %q", id)
		}
	}
	if len(fake.created) != 1 || len(fake.queries) != 1 {
		t.Fatalf("expected one lookup and one create, got %d queries and %d creates", len(fake.queries), len(fake.created))
	}
	created := fake.created[0]
	if created["name"] != "Premios" || created["mimeType"] != folderMimeType {
		t.Fatalf("unexpected folder request %v", created)
	}
	if parents, _ := created["parents"].([]any); len(parents) != 1 || parents[0] != "root" {
		t.Fatalf("expected root parent, got %v", created["parents"])
	}
}

func TestResolveOrCreateFolderFindsExisting(t *testing.T) {
	fake := &fakeDrive{existing: map[string]string{`Ideas_e_Inspiración`: "f-ideas", `O\'Brien`: "f-quote"}}
	client := newTestClient(t, fake)

	id, err := client.ResolveOrCreateFolder(context.Background(), "Ideas_e_Inspiración", "root")
	if err != nil || id != "f-ideas" {
		t.Fatalf("ResolveOrCreateFolder() = %q, %v", id, err)
	}
	id, err = client.ResolveOrCreateFolder(context.Background(), "O'Brien", "root")
	if err != nil || id != "f-quote" {
		t.Fatalf("expected escaped quote lookup, got %q, %v", id, err)
	}
	if len(fake.created) != 0 {
		t.Fatalf("expected no folder creation, got %v", fake.created)
	}
}

func TestListFileNamesFiltersPrefixAcrossPages(t *testing.T) {
	fake := &fakeDrive{files: [][]fileRef{
		{{ID: "1", Name: "Documentos_20240517_0001.pdf"}, {ID: "2", Name: "viejo_Documentos_20240517_0009.pdf"}},
		{{ID: "3", Name: "Documentos_20240517_0004.pdf"}},
	}}
	client := newTestClient(t, fake)

	names, err := client.ListFileNames(context.Background(), "folder-docs", "Documentos_20240517_")
	if err != nil {
		t.Fatalf("ListFileNames() error = %v", err)
	}
	want := []string{"Documentos_20240517_0001.pdf", "Documentos_20240517_0004.pdf"}
	if !slices.Equal(names, want) {
		t.Fatalf("ListFileNames() = %v, want %v", names, want)
	}
	if !strings.Contains(fake.queries[0], "'folder-docs' in parents") {
		t.Fatalf("unexpected query %q", fake.queries[0])
	}
}

func TestUploadSendsMultipartWithDescription(t *testing.T) {
	fake := &fakeDrive{}
	client := newTestClient(t, fake)

	id, err := client.Upload(context.Background(), []byte("jpeg"), domain.ArchiveFile{
		Name:     "Productos_20240517_0001.jpg",
		MimeType: "image/jpeg",
		Metadata: domain.MetadataEnvelope{OriginalName: "foto.jpg", Category: "Productos", UserTags: []string{}},
	}, "folder-products")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "file-1" {
		t.Fatalf("unexpected id %q", id)
	}

	meta := fake.uploads[0]
	if meta["name"] != "Productos_20240517_0001.jpg" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	var envelope map[string]any
	if err := json.Unmarshal([]byte(meta["description"].(string)), &envelope); err != nil {
		t.Fatalf("description is not json: %v", err)
	}
	if envelope["originalName"] != "foto.jpg" || envelope["category"] != "Productos" {
		t.Fatalf("unexpected envelope %v", envelope)
	}
	if fake.media[0] != "image/jpeg:jpeg" {
		t.Fatalf("unexpected media part %q", fake.media[0])
	}
}

func TestUploadRetryReusesCommittedFile(t *testing.T) {
	fake := &fakeDrive{commitThenFail: 1}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	client := newTestClientWithExecutor(t, fake, executor)

	id, err := client.Upload(context.Background(), []byte("pdf"), domain.ArchiveFile{
		Name:     "Documentos_20240517_0001.pdf",
		MimeType: "application/pdf",
	}, "folder-docs")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "file-1" {
		t.Fatalf("expected the committed file id, got %q", id)
	}
	if len(fake.uploads) != 1 {
		t.Fatalf("retry must not post the file again, got %d uploads", len(fake.uploads))
	}
	if len(fake.queries) != 1 || !strings.Contains(fake.queries[0], "name='Documentos_20240517_0001.pdf'") {
		t.Fatalf("expected one name lookup before retrying, got %v", fake.queries)
	}
}

func TestUploadRetryPostsAgainWhenNothingCommitted(t *testing.T) {
	fake := &fakeDrive{rejectUploads: 1}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	client := newTestClientWithExecutor(t, fake, executor)

	id, err := client.Upload(context.Background(), []byte("x"), domain.ArchiveFile{Name: "a.txt", MimeType: "text/plain"}, "f")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "file-1" || len(fake.uploads) != 1 {
		t.Fatalf("expected one stored upload, got id %q and %d uploads", id, len(fake.uploads))
	}
	if len(fake.queries) != 1 {
		t.Fatalf("expected a name lookup before the second post, got %v", fake.queries)
	}
}

func TestErrorsCarryTemporaryKind(t *testing.T) {
	fake := &fakeDrive{status: http.StatusServiceUnavailable}
	client := newTestClient(t, fake)

	_, err := client.Upload(context.Background(), []byte("x"), domain.ArchiveFile{Name: "a"}, "f")
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}

	fake.status = http.StatusForbidden
	_, err = client.ListFileNames(context.Background(), "f", "")
	if err == nil || errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "drive says no") {
		t.Fatalf("expected body in error, got %v", err)
	}

	if _, err := client.ResolveOrCreateFolder(context.Background(), " ", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewRequiresKeyWithoutClient(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error without key path")
	}
}
