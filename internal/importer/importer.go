// Package importer places uploaded images into album slots: one file into a
// chosen slot, or a whole selection into consecutive empty slots.
//
// Each accepted file is fingerprinted, checked against the album for
// duplicate content, normalized and assigned; the album is then persisted
// once per operation.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/fingerprint"
	"github.com/banux/caderneta/internal/normalize"
	"github.com/banux/caderneta/internal/persist"
)

// Policy decides what happens to memory when the durable write fails.
type Policy string

const (
	// PolicyKeep mutates the album first and keeps the changes when the
	// write is rejected; memory is then ahead of storage.
	PolicyKeep Policy = "keep"

	// PolicyWriteFirst builds the new album on a copy, writes it, and
	// commits it to memory only after the write succeeded.
	PolicyWriteFirst Policy = "write-first"
)

// ParsePolicy validates a policy name; empty means PolicyKeep.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyWriteFirst:
		return PolicyWriteFirst, nil
	}
	return "", fmt.Errorf("unknown persist policy %q", s)
}

// Persister saves a whole album.
type Persister interface {
	Save(ctx context.Context, a *album.Album) error
}

// Normalizer turns raw image bytes into a canonical sticker image.
type Normalizer interface {
	Normalize(raw []byte) (normalize.Image, error)
}

// File is one entry of a multi-file selection.
type File struct {
	Name string

	// ContentType is the declared media type; only "image/..." files are imported.
	ContentType string

	// Open returns the file content. It is called at most once.
	Open func() (io.ReadCloser, error)
}

// SingleResult describes the outcome of ImportSingle.
type SingleResult struct {
	Index     int  `json:"index"`
	Assigned  bool `json:"assigned"`
	Duplicate bool `json:"duplicate"`
	// Warning is a user-facing message set when the album could not be saved.
	Warning string `json:"warning,omitempty"`
}

// BatchResult describes the outcome of ImportBatch. The counts are for
// logging; the user only sees the resulting album.
type BatchResult struct {
	ID          string `json:"id"`
	Assigned    []int  `json:"assigned"`
	Duplicates  int    `json:"duplicates"`
	NotImages   int    `json:"not_images"`
	Unreadable  int    `json:"unreadable"`
	Undecodable int    `json:"undecodable"`
	// Full is set when the album filled up before every file was looked at.
	Full    bool   `json:"full"`
	Warning string `json:"warning,omitempty"`
}

// Coordinator runs imports against an album it is handed. It holds no album
// state itself; callers serialize access to the album.
type Coordinator struct {
	persister  Persister
	normalizer Normalizer
	policy     Policy
	logger     zerolog.Logger
}

// New returns a Coordinator.
func New(p Persister, n Normalizer, policy Policy) *Coordinator {
	if policy == "" {
		policy = PolicyKeep
	}
	return &Coordinator{persister: p, normalizer: n, policy: policy, logger: zerolog.Nop()}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Policy returns the configured persistence policy.
func (c *Coordinator) Policy() Policy { return c.policy }

// ImportSingle places raw into slot target. Content already in the album is
// ignored without error. Undecodable content returns an error wrapping
// normalize.ErrDecode and leaves the album untouched.
func (c *Coordinator) ImportSingle(ctx context.Context, a *album.Album, target int, raw []byte) (SingleResult, error) {
	res := SingleResult{Index: target}
	if _, err := a.Get(target); err != nil {
		return res, err
	}

	hash := fingerprint.Sum(raw)
	if a.ContainsHash(hash) {
		c.logger.Debug().Int("slot", target).Str("hash", hash).Msg("duplicate content ignored")
		res.Duplicate = true
		return res, nil
	}

	img, err := c.normalizer.Normalize(raw)
	if err != nil {
		return res, err
	}

	work := c.workingCopy(a)
	_ = work.Set(target, album.Sticker{Image: img.Data, Hash: hash})
	res.Assigned = true

	warning, err := c.save(ctx, a, work)
	res.Warning = warning
	if (warning != "" || err != nil) && c.policy == PolicyWriteFirst {
		res.Assigned = false
	}
	if err == nil {
		c.logger.Info().Int("slot", target).Str("hash", hash).Bool("saved", warning == "").Msg("sticker imported")
	}
	return res, err
}

// ImportBatch fills empty slots, lowest index first, with the image files
// in arrival order. Non-image, unreadable, duplicate and undecodable files
// are skipped. Import stops when the album is full. The album is saved
// exactly once, after the last file.
func (c *Coordinator) ImportBatch(ctx context.Context, a *album.Album, files []File) (BatchResult, error) {
	res := BatchResult{ID: uuid.Must(uuid.NewV7()).String()}
	log := c.logger.With().Str("batch", res.ID).Logger()

	work := c.workingCopy(a)
	cursor, ok := work.FindFirstEmpty()
	for _, f := range files {
		if !ok {
			res.Full = true
			break
		}
		if !IsImage(f.ContentType) {
			res.NotImages++
			continue
		}
		raw, err := readFile(f)
		if err != nil {
			log.Debug().Err(err).Str("file", f.Name).Msg("skip unreadable file")
			res.Unreadable++
			continue
		}
		hash := fingerprint.Sum(raw)
		if work.ContainsHash(hash) {
			res.Duplicates++
			continue
		}
		img, err := c.normalizer.Normalize(raw)
		if err != nil {
			log.Debug().Err(err).Str("file", f.Name).Msg("skip undecodable file")
			res.Undecodable++
			continue
		}
		_ = work.Set(cursor, album.Sticker{Image: img.Data, Hash: hash})
		res.Assigned = append(res.Assigned, cursor)
		cursor, ok = work.FindFirstEmpty()
	}

	warning, err := c.save(ctx, a, work)
	res.Warning = warning
	if (warning != "" || err != nil) && c.policy == PolicyWriteFirst {
		res.Assigned = nil
	}
	log.Info().
		Int("files", len(files)).
		Int("assigned", len(res.Assigned)).
		Int("duplicates", res.Duplicates).
		Int("not_images", res.NotImages).
		Int("unreadable", res.Unreadable).
		Int("undecodable", res.Undecodable).
		Bool("full", res.Full).
		Bool("saved", warning == "" && err == nil).
		Msg("batch import finished")
	return res, err
}

// workingCopy returns the album the import mutates: a itself under
// PolicyKeep, a copy under PolicyWriteFirst.
func (c *Coordinator) workingCopy(a *album.Album) *album.Album {
	if c.policy == PolicyWriteFirst {
		return a.Clone()
	}
	return a
}

// save persists work and, under PolicyWriteFirst, commits it to a. A quota
// failure is reported as a warning, not an error.
func (c *Coordinator) save(ctx context.Context, a, work *album.Album) (string, error) {
	err := c.persister.Save(ctx, work)
	if err == nil {
		if work != a {
			_ = a.Replace(work)
		}
		return "", nil
	}
	if warning := QuotaWarning(err); warning != "" {
		c.logger.Warn().Err(err).Str("policy", string(c.policy)).Msg("album not saved: quota exceeded")
		return warning, nil
	}
	return "", fmt.Errorf("save album: %w", err)
}

// QuotaWarning returns the user-facing message for a quota failure, or ""
// when err is not one.
func QuotaWarning(err error) string {
	if !errors.Is(err, album.ErrQuotaExceeded) {
		return ""
	}
	var se *persist.SaveError
	if errors.As(err, &se) {
		return fmt.Sprintf("Out of storage space (the album needs %s). Reset the album or use smaller images.",
			humanize.Bytes(uint64(se.Size)))
	}
	return "Out of storage space. Reset the album or use smaller images."
}

// IsImage reports whether a declared media type is an image type.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

func readFile(f File) ([]byte, error) {
	if f.Open == nil {
		return nil, errors.New("no content")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
