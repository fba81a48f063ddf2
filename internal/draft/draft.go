// Package draft converts posts to and from editable files: YAML frontmatter
// followed by the HTML body.
package draft

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ghostly/internal/models"
)

const delim = "---"

// ErrNoFrontmatter is returned for files without a frontmatter block.
var ErrNoFrontmatter = errors.New("draft: missing frontmatter")

// Frontmatter is the editable metadata of a post. UpdatedAt is the server
// token the draft was exported with; Checksum covers the editable fields at
// export time.
type Frontmatter struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Slug         string   `yaml:"slug,omitempty"`
	Status       string   `yaml:"status"`
	Excerpt      string   `yaml:"excerpt,omitempty"`
	FeatureImage string   `yaml:"feature_image,omitempty"`
	Tags         []string `yaml:"tags,omitempty"`
	UpdatedAt    string   `yaml:"updated_at"`
	Checksum     string   `yaml:"checksum,omitempty"`
}

// Draft is a parsed draft file.
type Draft struct {
	Frontmatter
	Body string
}

// Export renders p as a draft file.
func Export(p models.Post) ([]byte, error) {
	d := Draft{
		Frontmatter: Frontmatter{
			ID:           p.ID,
			Title:        p.Title,
			Slug:         p.Slug,
			Status:       string(p.Status),
			Excerpt:      p.Excerpt,
			FeatureImage: p.FeatureImage,
			UpdatedAt:    p.UpdatedAt,
		},
		Body: p.HTML,
	}
	for _, t := range p.Tags {
		d.Tags = append(d.Tags, t.Name)
	}
	d.Checksum = d.sum()

	fm, err := yaml.Marshal(d.Frontmatter)
	if err != nil {
		return nil, fmt.Errorf("draft: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(fm)
	buf.WriteString(delim + "\n")
	buf.WriteString(d.Body)
	if !strings.HasSuffix(d.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Parse reads a draft file.
func Parse(data []byte) (*Draft, error) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, ErrNoFrontmatter
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, ErrNoFrontmatter
	}

	var d Draft
	if err := yaml.Unmarshal(rest[:idx], &d.Frontmatter); err != nil {
		return nil, fmt.Errorf("draft: parse frontmatter: %w", err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("draft: frontmatter has no id")
	}
	body := rest[idx+1+len(delim):]
	d.Body = strings.TrimSuffix(strings.TrimLeft(string(body), "\r\n"), "\n")
	return &d, nil
}

// Changed reports whether the editable fields differ from the exported ones.
func (d *Draft) Changed() bool {
	return d.Checksum == "" || d.Checksum != d.sum()
}

// Apply returns base with the draft's edits applied. Tags are matched to
// base's tags by name; unknown names become pending tags. UpdatedAt is the
// draft's token, so an edit made on the server since export is detected.
func (d *Draft) Apply(base models.Post) models.Post {
	p := base
	p.Title = d.Title
	p.HTML = d.Body
	p.Excerpt = d.Excerpt
	p.FeatureImage = d.FeatureImage
	p.Status = models.Status(d.Status)
	p.UpdatedAt = d.UpdatedAt

	p.Tags = models.ResolveTags(base.Tags, d.Tags)
	return p
}

func (d *Draft) sum() string {
	h := sha256.New()
	for _, field := range []string{d.Title, d.Status, d.Excerpt, d.FeatureImage, strings.Join(d.Tags, "\x1f"), strings.Trim(d.Body, "\r\n")} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
