package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

var testNow = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

// callLog records external calls across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.calls...)
}

type sessionStoreFake struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	updates   int
	getErr    error
	updateErr error
}

func newSessionStoreFake() *sessionStoreFake {
	return &sessionStoreFake{sessions: map[string]domain.Session{}}
}

func (f *sessionStoreFake) Get(_ context.Context, userID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Session{}, f.getErr
	}
	s, ok := f.sessions[userID]
	if !ok {
		s = domain.NewSession(userID, testNow)
		f.sessions[userID] = s
	}
	return s.Clone(), nil
}

func (f *sessionStoreFake) Update(_ context.Context, userID string, patch domain.SessionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.sessions[userID]
	if !ok {
		s = domain.NewSession(userID, testNow)
	}
	s.Apply(patch)
	f.sessions[userID] = s
	f.updates++
	return nil
}

func (f *sessionStoreFake) session(userID string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[userID].Clone()
}

func (f *sessionStoreFake) put(s domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.UserID] = s.Clone()
}

type classifierFake struct {
	log       *callLog
	calls     []domain.MediaContent
	result    domain.ClassificationResult
	err       error
	failNames map[string]bool
}

func (f *classifierFake) Classify(_ context.Context, media domain.MediaContent) (domain.ClassificationResult, error) {
	f.calls = append(f.calls, media)
	f.log.add("classify:%s", media.Filename)
	if f.err != nil {
		return domain.ClassificationResult{}, f.err
	}
	if f.failNames[media.Filename] {
		return domain.ClassificationResult{}, errors.New("upstream 500")
	}
	return f.result, nil
}

type uploadedFile struct {
	content  []byte
	file     domain.ArchiveFile
	folderID string
}

type archiveStorageFake struct {
	log       *callLog
	folders   map[string]string
	existing  map[string][]string
	uploads   []uploadedFile
	folderErr error
	listErr   error
	uploadErr error
	// blockUpload makes Upload wait for its context to end.
	blockUpload bool
}

func newArchiveStorageFake(log *callLog) *archiveStorageFake {
	return &archiveStorageFake{
		log:      log,
		folders:  map[string]string{},
		existing: map[string][]string{},
	}
}

func (f *archiveStorageFake) ResolveOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	if f.folderErr != nil {
		return "", f.folderErr
	}
	key := parentID + "/" + name
	if id, ok := f.folders[key]; ok {
		return id, nil
	}
	id := "folder-" + name
	f.folders[key] = id
	return id, nil
}

func (f *archiveStorageFake) ListFileNames(_ context.Context, folderID, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for _, name := range f.existing[folderID] {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *archiveStorageFake) Upload(ctx context.Context, content []byte, file domain.ArchiveFile, folderID string) (string, error) {
	f.log.add("upload:%s", file.Metadata.OriginalName)
	if f.blockUpload {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, uploadedFile{content: content, file: file, folderID: folderID})
	f.existing[folderID] = append(f.existing[folderID], file.Name)
	return fmt.Sprintf("file-%d", len(f.uploads)), nil
}

type sentMessage struct {
	userID string
	msg    domain.OutboundMessage
}

type messengerFake struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *messengerFake) Send(_ context.Context, userID string, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{userID: userID, msg: msg})
	return f.err
}

func (f *messengerFake) last() domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return domain.OutboundMessage{}
	}
	return f.sent[len(f.sent)-1].msg
}

func (f *messengerFake) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func (f *messengerFake) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.msg.Text)
	}
	return out
}

func (f *messengerFake) anyContains(substr string) bool {
	for _, text := range f.texts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

type fetcherFake struct {
	err   error
	calls int
	block bool
}

func (f *fetcherFake) Fetch(ctx context.Context, file domain.FilePayload) ([]byte, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("bytes-of-" + file.Reference()), nil
}

type contentStoreFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	saveErr error
}

func newContentStoreFake() *contentStoreFake {
	return &contentStoreFake{objects: map[string][]byte{}}
}

func (f *contentStoreFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *contentStoreFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *contentStoreFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type observerFake struct {
	transitions []string
	outcomes    []string
	sendFails   int
}

func (f *observerFake) ObserveTransition(from, to domain.State) {
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
}

func (f *observerFake) ObserveClassification(time.Duration, error) {}

func (f *observerFake) ObserveUpload(time.Duration, error) {}

func (f *observerFake) ObserveEntryFinished(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

func (f *observerFake) ObserveQueueDepth(int) {}

func (f *observerFake) ObserveSendFailure() {
	f.sendFails++
}

type harness struct {
	t          *testing.T
	userID     string
	log        *callLog
	store      *sessionStoreFake
	classifier *classifierFake
	storage    *archiveStorageFake
	messenger  *messengerFake
	fetcher    *fetcherFake
	content    *contentStoreFake
	observer   *observerFake
	engine     *Engine
	seq        int
}

func testCatalog() domain.CategoryCatalog {
	return domain.NewCategoryCatalog([]domain.Category{
		{Name: "Productos"},
		{Name: "Documentos", Folder: "Docs"},
		{Name: "Producción"},
	}, "General")
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		t:      t,
		userID: "5215550001",
		log:    log,
		store:  newSessionStoreFake(),
		classifier: &classifierFake{
			log: log,
			result: domain.ClassificationResult{
				Category:      "documentos",
				Confidence:    0.92,
				Justification: "parece una factura",
			},
		},
		storage:   newArchiveStorageFake(log),
		messenger: &messengerFake{},
		fetcher:   &fetcherFake{},
		content:   newContentStoreFake(),
		observer:  &observerFake{},
	}
	h.engine = h.newEngine(WorkflowOptions{RootFolderID: "root"})
	return h
}

func (h *harness) newEngine(opts WorkflowOptions) *Engine {
	ids := 0
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewEngine(WorkflowDeps{
		Store:      h.store,
		Classifier: h.classifier,
		Storage:    h.storage,
		Messenger:  h.messenger,
		Fetcher:    h.fetcher,
		Content:    h.content,
		Catalog:    testCatalog(),
		Observer:   h.observer,
		Now:        func() time.Time { return testNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("entry-%d", ids)
		},
	}, opts)
}

func (h *harness) handle(event domain.InboundEvent) error {
	h.seq++
	event.ID = fmt.Sprintf("evt-%d", h.seq)
	if event.UserID == "" {
		event.UserID = h.userID
	}
	return h.engine.HandleEvent(context.Background(), event)
}

func (h *harness) reply(text string) {
	h.t.Helper()
	if err := h.handle(domain.InboundEvent{Kind: domain.EventReply, Text: text}); err != nil {
		h.t.Fatalf("HandleEvent(reply %q) error = %v", text, err)
	}
}

func (h *harness) document(name string) {
	h.t.Helper()
	err := h.handle(domain.InboundEvent{
		Kind: domain.EventFile,
		File: &domain.FilePayload{
			Kind:     domain.MediaDocument,
			MediaID:  "media-" + name,
			MimeType: "application/pdf",
			Filename: name,
		},
	})
	if err != nil {
		h.t.Fatalf("HandleEvent(file %q) error = %v", name, err)
	}
}

func (h *harness) session() domain.Session {
	return h.store.session(h.userID)
}

func (h *harness) requireState(want domain.State) {
	h.t.Helper()
	if got := h.session().State; got != want {
		h.t.Fatalf("expected state %s, got %s", want, got)
	}
}
