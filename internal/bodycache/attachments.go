package bodycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/pkg/types"
)

// saveAttachments writes each attachment once per distinct content and
// records a metadata row per (email, checksum, filename)
func (c *Cache) saveAttachments(ctx context.Context, e *types.Email, env *enmime.Envelope) ([]types.Attachment, error) {
	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	for _, p := range env.Inlines {
		if p.FileName != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	if c.cfg.AttachmentDir == "" {
		c.logger.WithField("uid", e.UID).Debug("No attachment directory configured, skipping extraction")
		return nil, nil
	}

	expires := c.now().Add(c.cfg.AttachmentTTL)
	out := make([]types.Attachment, 0, len(parts))
	for _, p := range parts {
		sum := sha256.Sum256(p.Content)
		checksum := hex.EncodeToString(sum[:])
		name := safeFilename(p.FileName)

		path, err := c.storeContent(ctx, e, checksum, name, p.Content)
		if err != nil {
			return out, err
		}

		a := types.Attachment{
			EmailID:     e.ID,
			Checksum:    checksum,
			Filename:    name,
			ContentType: p.ContentType,
			Size:        int64(len(p.Content)),
			StoragePath: path,
			ExpiresAt:   &expires,
		}
		if err := c.store.UpsertAttachment(ctx, &a); err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// storeContent returns the path of a file holding content, writing it only
// when no stored file with the same checksum exists yet
func (c *Cache) storeContent(ctx context.Context, e *types.Email, checksum, name string, content []byte) (string, error) {
	path, err := c.store.FindPathByChecksum(ctx, checksum)
	switch {
	case err == nil:
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
		// row survived but the file is gone: write it back in place
	case errors.Is(err, cache.ErrNotFound):
		path = filepath.Join(c.cfg.AttachmentDir, e.Date.UTC().Format("2006-01-02"), checksum+"_"+name)
	default:
		return "", err
	}

	if err := writeFileAtomic(path, content); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create attachment directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create attachment file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store attachment: %w", err)
	}
	return nil
}

// safeFilename keeps the base name and drops anything that could escape the
// attachment directory
func safeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == ':' {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
