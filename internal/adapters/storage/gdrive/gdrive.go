// Package gdrive keeps rendered videos and uploaded assets in a Google Drive
// folder.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"vidrender/internal/ports"
)

// keyProperty records the requested object key on the Drive file.
const keyProperty = "vidrender_key"

// Client is a ports.StorageProvider on Drive. Files are named after the
// last element of the object key; the key handed back by PutObject is the
// Drive file id, and every other method takes that id.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive: object key is required")
	}

	meta := &drive.File{
		Name:          path.Base(in.ObjectKey),
		Description:   in.ObjectKey,
		AppProperties: map[string]string{keyProperty: in.ObjectKey},
	}
	if c.folderID != "" {
		meta.Parents = []string{c.folderID}
	}

	var media []googleapi.MediaOption
	if in.ContentType != "" {
		media = append(media, googleapi.ContentType(in.ContentType))
	}
	f, err := c.srv.Files.Create(meta).
		Media(in.Reader, media...).
		SupportsAllDrives(true).
		Fields("id", "size").
		Context(ctx).
		Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload %s: %w", in.ObjectKey, err)
	}

	out := ports.PutObjectOutput{ObjectKey: f.Id, Size: f.Size}
	if out.Size == 0 {
		out.Size = in.Size
	}
	return out, nil
}

func (c *Client) GetObject(ctx context.Context, fileID string) (io.ReadCloser, string, int64, error) {
	res, err := c.srv.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, "", 0, notFound(err)
	}
	return res.Body, res.Header.Get("Content-Type"), res.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, fileID string) error {
	return notFound(c.srv.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do())
}

// GetSignedURL hands out webContentLink. Drive links never expire and need
// the viewer to have access, so ExpiresAt is advisory.
func (c *Client) GetSignedURL(ctx context.Context, fileID string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	f, err := c.srv.Files.Get(fileID).SupportsAllDrives(true).Fields("webContentLink").Context(ctx).Do()
	if err != nil {
		return ports.SignedURLOutput{}, notFound(err)
	}
	return ports.SignedURLOutput{URL: f.WebContentLink, ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// notFound maps a Drive 404 onto ports.ErrObjectNotFound.
func notFound(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ports.ErrObjectNotFound, apiErr.Message)
	}
	return err
}
