// Package resources manages the files shared in a study room.
package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/conorfennell/studyroom/internal/blob"
	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/dustin/go-humanize"
)

const unknownUploader = "Unknown"

var ErrInvalidName = fmt.Errorf("invalid resource name: %w", domain.ErrInvalid)

// Resource is a shared file as listed in a room.
type Resource struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Uploader    string    `json:"uploader"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SizeLabel   string    `json:"sizeLabel"`
	TimeCreated time.Time `json:"timeCreated"`
}

type Service struct {
	blobs blob.Store
}

func NewService(blobs blob.Store) *Service {
	return &Service{blobs: blobs}
}

func prefix(roomID string) string {
	return "rooms/" + roomID + "/resources"
}

func cleanName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return name, nil
}

// Upload stores a file for the room, recording who shared it.
func (s *Service) Upload(ctx context.Context, roomID, name string, r io.Reader, uploader domain.Participant) (Resource, error) {
	name, err := cleanName(name)
	if err != nil {
		return Resource{}, err
	}
	who := uploader.DisplayName
	if who == "" {
		who = unknownUploader
	}

	obj, err := s.blobs.Upload(ctx, prefix(roomID)+"/"+name, r, map[string]string{"uploader": who})
	if err != nil {
		return Resource{}, domain.Persistence("upload resource", err)
	}
	slog.Info("Uploaded resource", "room", roomID, "name", name, "uploader", who)
	return s.describe(ctx, obj)
}

func (s *Service) describe(ctx context.Context, obj blob.Object) (Resource, error) {
	meta, err := s.blobs.Metadata(ctx, obj)
	if err != nil {
		return Resource{}, domain.Persistence("get resource metadata", err)
	}
	uploader := meta.Custom["uploader"]
	if uploader == "" {
		uploader = unknownUploader
	}
	return Resource{
		Name:        obj.Name,
		URL:         s.blobs.URL(obj),
		Uploader:    uploader,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		SizeLabel:   humanize.Bytes(uint64(meta.Size)),
		TimeCreated: meta.TimeCreated,
	}, nil
}

// List returns the room's resources ordered by name.
func (s *Service) List(ctx context.Context, roomID string) ([]Resource, error) {
	objs, err := s.blobs.List(ctx, prefix(roomID))
	if err != nil {
		return nil, domain.Persistence("list resources", err)
	}
	out := make([]Resource, 0, len(objs))
	for _, obj := range objs {
		r, err := s.describe(ctx, obj)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue // deleted while listing
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, roomID, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	err = s.blobs.Delete(ctx, blob.Ref(prefix(roomID)+"/"+name))
	if errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("resource %s: %w", name, domain.ErrNotFound)
	}
	return domain.Persistence("delete resource", err)
}

// Poller returns a poller that delivers the room's resource list every interval.
func (s *Service) Poller(roomID string, interval time.Duration, deliver func([]Resource)) *Poller[[]Resource] {
	return NewPoller(interval, func(ctx context.Context) ([]Resource, error) {
		return s.List(ctx, roomID)
	}, deliver)
}
