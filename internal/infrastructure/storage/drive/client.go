package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	listPageSize   = 1000
	listFields     = "nextPageToken, files(id, name)"
)

type Options struct {
	// KeyPath is a service account JSON key. Ignored when HTTPClient is set.
	KeyPath      string
	RootFolderID string
	// Endpoint overrides the Drive base URL, for tests.
	Endpoint   string
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

// Client archives files in Google Drive.
type Client struct {
	files    *drive.FilesService
	rootID   string
	executor *resilience.Executor

	mu      sync.Mutex
	folders map[string]string
}

func New(ctx context.Context, opts Options) (*Client, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case strings.TrimSpace(opts.KeyPath) != "":
		key, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read drive key: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(key, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("parse drive key: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(conf.TokenSource(ctx)))
	default:
		return nil, fmt.Errorf("drive service account key path is required")
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimRight(opts.Endpoint, "/")+"/"))
	}

	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Client{
		files:    svc.Files,
		rootID:   strings.TrimSpace(opts.RootFolderID),
		executor: opts.Executor,
		folders:  make(map[string]string),
	}, nil
}

// ResolveOrCreateFolder finds a folder by name under parentID or creates it.
// An empty parentID means the configured root folder.
func (c *Client) ResolveOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	name = strings.TrimSpace(name)
	if parentID == "" {
		parentID = c.rootID
	}
	if name == "" || parentID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve drive folder", errors.New("folder name and parent are required"))
	}

	cacheKey := parentID + "/" + name
	c.mu.Lock()
	id, ok := c.folders[cacheKey]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	query := fmt.Sprintf("mimeType='%s' and trashed=false and name='%s' and '%s' in parents", folderMimeType, escapeQuery(name), escapeQuery(parentID))
	found, err := c.list(ctx, query, 1)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		id = found[0].Id
	} else {
		id, err = c.createFolder(ctx, name, parentID)
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.folders[cacheKey] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) ListFileNames(ctx context.Context, folderID, prefix string) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false and mimeType!='%s'", escapeQuery(folderID), folderMimeType)
	if prefix != "" {
		query += fmt.Sprintf(" and name contains '%s'", escapeQuery(prefix))
	}
	files, err := c.list(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name, prefix) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// Upload stores the file with its metadata envelope as the Drive description.
// files.create is not idempotent: a retry first looks for a file of the same
// name in the folder, since the failed attempt may have been committed.
func (c *Client) Upload(ctx context.Context, content []byte, file domain.ArchiveFile, folderID string) (string, error) {
	description, err := file.Metadata.JSON()
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	attempt := 0
	id, err := resilience.Do(ctx, c.executor, "drive.upload", func(callCtx context.Context) (string, error) {
		attempt++
		if attempt > 1 {
			existing, err := c.findFile(callCtx, folderID, file.Name)
			if err != nil {
				return "", err
			}
			if existing != "" {
				return existing, nil
			}
		}
		created, err := c.files.Create(&drive.File{
			Name:        file.Name,
			MimeType:    file.MimeType,
			Parents:     []string{folderID},
			Description: description,
		}).
			Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
			Fields("id").
			SupportsAllDrives(true).
			Context(callCtx).
			Do()
		if err != nil {
			return "", fmt.Errorf("drive files.create: %w", err)
		}
		return created.Id, nil
	}, classifyDriveError)
	if err != nil {
		return "", resilience.WrapTemporary("drive upload", err, classifyDriveError)
	}
	if id == "" {
		return "", fmt.Errorf("drive upload: response has no file id")
	}
	return id, nil
}

func (c *Client) createFolder(ctx context.Context, name, parentID string) (string, error) {
	created, err := resilience.Do(ctx, c.executor, "drive.create_folder", func(callCtx context.Context) (*drive.File, error) {
		return c.files.Create(&drive.File{
			Name:     name,
			MimeType: folderMimeType,
			Parents:  []string{parentID},
		}).
			Fields("id").
			SupportsAllDrives(true).
			Context(callCtx).
			Do()
	}, classifyDriveError)
	if err != nil {
		return "", resilience.WrapTemporary("drive create folder", err, classifyDriveError)
	}
	if created.Id == "" {
		return "", fmt.Errorf("drive create folder: response has no id")
	}
	return created.Id, nil
}

// findFile returns the id of a non-trashed file named name in folderID, or "".
func (c *Client) findFile(ctx context.Context, folderID, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false and mimeType!='%s'", escapeQuery(name), escapeQuery(folderID), folderMimeType)
	page, err := c.listPage(ctx, query, "")
	if err != nil {
		return "", err
	}
	for _, f := range page.Files {
		if f.Name == name {
			return f.Id, nil
		}
	}
	return "", nil
}

// list pages through files.list; limit 0 means all pages.
func (c *Client) list(ctx context.Context, query string, limit int) ([]*drive.File, error) {
	var out []*drive.File
	pageToken := ""
	for {
		page, err := resilience.Do(ctx, c.executor, "drive.list", func(callCtx context.Context) (*drive.FileList, error) {
			return c.listPage(callCtx, query, pageToken)
		}, classifyDriveError)
		if err != nil {
			return nil, resilience.WrapTemporary("drive list", err, classifyDriveError)
		}

		out = append(out, page.Files...)
		if page.NextPageToken == "" || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) listPage(ctx context.Context, query, pageToken string) (*drive.FileList, error) {
	call := c.files.List().
		Q(query).
		Fields(listFields).
		Spaces("drive").
		PageSize(listPageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	page, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("drive files.list: %w", err)
	}
	return page, nil
}

// classifyDriveError applies the shared HTTP status policy to googleapi errors.
func classifyDriveError(err error) resilience.ErrorClassification {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if resilience.IsRetryableHTTPStatus(apiErr.Code) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyHTTPError(err)
}

func escapeQuery(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
