package etl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/heymumford/ztoq-migrate/internal/domain"
	"github.com/heymumford/ztoq-migrate/internal/retry"
)

// spillThreshold is the in-memory bound an attachment's content may reach
// before it is written to a temp file instead, mirroring the chunk-size
// scale the teacher's transfer.go uses to keep a single transfer from
// dominating process memory (spec §5's bounded-memory requirement).
const spillThreshold = 4 * 1024 * 1024 // MaxChunkSize, teacher's internal/peer/transfer.go

// attachmentPath returns the on-disk path an attachment belonging to a test
// case or execution is written to (spec §6.5). SourceClient exposes no
// attachment-metadata lookup, only DownloadAttachment(id) -> bytes, so the
// filename is derived from the attachment id itself rather than a real
// source filename.
func attachmentPath(dir string, owner domain.AttachmentOwnerKind, ownerSourceID, attachmentID string) string {
	var prefix string
	switch owner {
	case domain.AttachmentOwnerTestCase:
		prefix = fmt.Sprintf("tc_%s_%s", ownerSourceID, attachmentID)
	case domain.AttachmentOwnerTestExecution:
		prefix = fmt.Sprintf("exec_%s_%s", ownerSourceID, attachmentID)
	default:
		prefix = fmt.Sprintf("%s_%s", ownerSourceID, attachmentID)
	}
	return filepath.Join(dir, prefix)
}

// fetchAttachment downloads one attachment's bytes from Source, computes an
// xxhash checksum the way the teacher's ChunkReader/ChunkWriter do, and,
// when AttachmentsDir is set, spills content larger than spillThreshold to
// it instead of holding it resident (with no AttachmentsDir, content of any
// size stays resident). The returned domain.Attachment carries either
// Content or SpillPath, never both.
func (e *Executor) fetchAttachment(ctx context.Context, id string, owner domain.AttachmentOwnerKind, ownerSourceID string) (domain.Attachment, string, error) {
	var data []byte
	err := e.retryAPI(ctx, func(ctx context.Context) error {
		b, err := e.Source.DownloadAttachment(ctx, id)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return domain.Attachment{}, "", fmt.Errorf("download attachment %s: %w", id, err)
	}

	checksum := fmt.Sprintf("%016x", xxhash.Sum64(data))
	a := domain.Attachment{
		ID:          id,
		RelatedType: owner,
		RelatedID:   ownerSourceID,
		Size:        int64(len(data)),
	}

	if len(data) <= spillThreshold || e.AttachmentsDir == "" {
		a.Content = data
		return a, checksum, nil
	}

	path := attachmentPath(e.AttachmentsDir, owner, ownerSourceID, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Attachment{}, "", fmt.Errorf("create attachments dir for %s: %w", id, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Attachment{}, "", fmt.Errorf("spill attachment %s to disk: %w", id, err)
	}
	a.SpillPath = path
	return a, checksum, nil
}

// readAttachment returns an attachment's bytes regardless of whether they
// are resident or spilled to disk.
func readAttachment(a domain.Attachment) ([]byte, error) {
	if !a.IsSpilled() {
		return a.Content, nil
	}
	return os.ReadFile(a.SpillPath)
}

// retryAPI wraps a single Source/Target call with the executor's retry
// policy (spec §4.7/§4.8: retry applies per API call, never per batch).
func (e *Executor) retryAPI(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, e.Retry, nil, fn)
}
