package taxonomy

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/pkg/adminapi"
)

// AdminSource reads categories from the admin service.
type AdminSource struct {
	client adminapi.Client
}

// NewAdminSource wraps an admin client as a Source.
func NewAdminSource(client adminapi.Client) *AdminSource {
	return &AdminSource{client: client}
}

// FetchCategories maps admin client failures onto the taxonomy error classes.
func (s *AdminSource) FetchCategories(ctx context.Context) ([]model.Category, error) {
	page, err := s.client.ListCategories(ctx)
	if err != nil {
		var apiErr *adminapi.APIError
		switch {
		case errors.Is(err, adminapi.ErrMalformed):
			return nil, &MalformedResponseError{Err: err}
		case errors.As(err, &apiErr) && apiErr.StatusCode == 0:
			// success=false in a 2xx body
			return nil, &MalformedResponseError{Err: err}
		default:
			return nil, &TransportError{Err: err}
		}
	}
	if len(page.Rows) == 0 {
		return nil, ErrEmptyTaxonomy
	}

	categories := make([]model.Category, 0, len(page.Rows))
	for i, row := range page.Rows {
		id := strings.TrimSpace(row.ID)
		name := strings.TrimSpace(row.Name)
		if id == "" || name == "" {
			return nil, &MalformedResponseError{Err: eris.Errorf("row %d missing id or name", i)}
		}
		categories = append(categories, model.Category{
			ID:        id,
			Name:      name,
			CreatedAt: parseAdminTime(row.CreatedAt),
			UpdatedAt: parseAdminTime(row.UpdatedAt),
		})
	}
	return categories, nil
}

var adminTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseAdminTime(v string) time.Time {
	for _, layout := range adminTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FileSource reads categories from a YAML file of the form
//
//	categories:
//	  - id: 23515d46
//	    name: 이용내역 안내
type FileSource struct {
	path string
}

// NewFileSource creates a Source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type categoryFile struct {
	Categories []model.Category `yaml:"categories"`
}

// FetchCategories re-reads the file on every call.
func (s *FileSource) FetchCategories(_ context.Context) ([]model.Category, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &TransportError{Err: eris.Wrapf(err, "read %s", s.path)}
	}

	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &MalformedResponseError{Err: eris.Wrapf(err, "parse %s", s.path)}
	}
	if len(f.Categories) == 0 {
		return nil, ErrEmptyTaxonomy
	}
	for i, c := range f.Categories {
		if c.ID == "" || c.Name == "" {
			return nil, &MalformedResponseError{Err: eris.Errorf("%s: entry %d missing id or name", s.path, i)}
		}
	}
	return f.Categories, nil
}
