package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Disk keeps blob contents under root/objects and their metadata as JSON under root/meta.
type Disk struct {
	root    string
	baseURL string
}

var _ Store = (*Disk)(nil)

// NewDisk creates the storage directories under root. URLs are served from baseURL + "/blobs/".
func NewDisk(root, baseURL string) (*Disk, error) {
	for _, dir := range []string{"objects", "meta"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}
	return &Disk{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *Disk) objectPath(path string) string {
	return filepath.Join(d.root, "objects", filepath.FromSlash(path))
}

func (d *Disk) metaPath(path string) string {
	return filepath.Join(d.root, "meta", filepath.FromSlash(path)+".json")
}

func (d *Disk) Upload(ctx context.Context, path string, r io.Reader, custom map[string]string) (Object, error) {
	if err := ValidatePath(path); err != nil {
		return Object{}, err
	}
	dst := d.objectPath(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	mtype, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return Object{}, fmt.Errorf("failed to detect content type of %s: %w", path, err)
	}

	meta := Metadata{
		ContentType: mtype.String(),
		Size:        size,
		TimeCreated: time.Now().UTC(),
		Custom:      custom,
	}
	if err := d.writeMeta(path, meta); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Object{}, fmt.Errorf("failed to store %s: %w", path, err)
	}
	return Ref(path), nil
}

func (d *Disk) writeMeta(path string, meta Metadata) error {
	dst := d.metaPath(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory for %s: %w", path, err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", path, err)
	}
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", path, err)
	}
	return nil
}

func (d *Disk) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ValidatePath(prefix); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.objectPath(prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Object{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		objects = append(objects, Ref(prefix+"/"+e.Name()))
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

func (d *Disk) URL(obj Object) string {
	segs := strings.Split(obj.Path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return d.baseURL + "/blobs/" + strings.Join(segs, "/")
}

func (d *Disk) Metadata(ctx context.Context, obj Object) (Metadata, error) {
	if err := ValidatePath(obj.Path); err != nil {
		return Metadata{}, err
	}
	raw, err := os.ReadFile(d.metaPath(obj.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("failed to read metadata for %s: %w", obj.Path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata for %s: %w", obj.Path, err)
	}
	return meta, nil
}

func (d *Disk) Open(ctx context.Context, obj Object) (io.ReadCloser, Metadata, error) {
	meta, err := d.Metadata(ctx, obj)
	if err != nil {
		return nil, Metadata{}, err
	}
	f, err := os.Open(d.objectPath(obj.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Metadata{}, ErrNotFound
		}
		return nil, Metadata{}, fmt.Errorf("failed to open %s: %w", obj.Path, err)
	}
	return f, meta, nil
}

func (d *Disk) Delete(ctx context.Context, obj Object) error {
	if err := ValidatePath(obj.Path); err != nil {
		return err
	}
	err := os.Remove(d.objectPath(obj.Path))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", obj.Path, err)
	}
	if err := os.Remove(d.metaPath(obj.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete metadata for %s: %w", obj.Path, err)
	}
	return nil
}
