package loan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"loanflow/internal/flow"
)

// SubmitResult is returned by a successful submission.
type SubmitResult struct {
	RecordID string
	Record   *SubmittedRecord
}

// Coordinator uploads a session's staged documents and writes the record.
type Coordinator struct {
	objects   ObjectStore
	docs      DocumentStore
	encryptor Encryptor
	notifier  Notifier
	clock     Clock
	logger    Logger
	metrics   Metrics
}

// NewCoordinator creates a Coordinator. encryptor and notifier may be nil,
// in which case documents are stored as uploaded and nobody is notified.
func NewCoordinator(objects ObjectStore, docs DocumentStore, encryptor Encryptor, notifier Notifier, clock Clock, logger Logger, metrics Metrics) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Coordinator{
		objects:   objects,
		docs:      docs,
		encryptor: encryptor,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Submit stores one application built from fields and the staged files.
// No store is touched unless auth holds a verified user. Documents are
// uploaded concurrently; the record is written only after every upload
// succeeded. Objects uploaded before a failure are left in place.
func (c *Coordinator) Submit(ctx context.Context, f *flow.Flow, fields map[string]string, files FileStaging, auth *AuthSession) (*SubmitResult, error) {
	if auth == nil || auth.UserID == "" {
		return nil, ErrIdentityMissing
	}
	start := c.clock.Now()

	staged := make(map[string]StagedFile)
	for _, sf := range files.Staged() {
		staged[sf.Slot] = sf
	}
	var toUpload []StagedFile
	for _, sl := range f.Slots() {
		sf, ok := staged[sl.Name]
		if !ok {
			if !sl.Optional {
				return nil, fmt.Errorf("%w: %s", ErrDocumentMissing, sl.Name)
			}
			continue
		}
		toUpload = append(toUpload, sf)
	}

	rec := &SubmittedRecord{
		Flow:          f.Kind,
		UserID:        auth.UserID,
		PhoneNumber:   auth.PhoneNumber,
		Fields:        make(map[string]string),
		Documents:     make(map[string]string),
		DocumentPaths: make(map[string]string),
	}
	for _, fd := range f.Fields() {
		if !fd.Transient {
			rec.Fields[fd.Name] = fields[fd.Name]
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, sf := range toUpload {
		g.Go(func() error {
			p, url, err := c.upload(gctx, f, auth.UserID, files, sf)
			if err != nil {
				c.metrics.DocumentUploaded(f.Kind, "error")
				return fmt.Errorf("uploading %s: %w", sf.Slot, err)
			}
			c.metrics.DocumentUploaded(f.Kind, "ok")
			mu.Lock()
			rec.DocumentPaths[sf.Slot] = p
			rec.Documents[sf.Slot] = url
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.SubmissionFinished(f.Kind, "upload_error", c.clock.Now().Sub(start))
		c.logger.Error("document upload failed", "flow", f.Kind, "user", auth.UserID, "error", err)
		return nil, err
	}

	if err := c.write(ctx, f, rec); err != nil {
		c.metrics.SubmissionFinished(f.Kind, "write_error", c.clock.Now().Sub(start))
		c.logger.Error("record write failed", "flow", f.Kind, "user", auth.UserID, "error", err)
		return nil, err
	}
	c.metrics.SubmissionFinished(f.Kind, "ok", c.clock.Now().Sub(start))
	c.logger.Info("application submitted", "flow", f.Kind, "record", rec.ID, "user", auth.UserID, "documents", len(rec.Documents))

	if c.notifier != nil && f.Target == flow.TargetApplication {
		if err := c.notifier.ApplicationSubmitted(ctx, rec); err != nil {
			c.logger.Warn("submission notification failed", "record", rec.ID, "error", err)
		}
	}
	return &SubmitResult{RecordID: rec.ID, Record: rec}, nil
}

func (c *Coordinator) write(ctx context.Context, f *flow.Flow, rec *SubmittedRecord) error {
	if f.Target == flow.TargetProfile {
		rec.ID = rec.UserID
		rec.Collection = UsersCollection
		rec.CreatedAt = c.clock.Now()
		if err := c.docs.Set(ctx, UsersCollection, rec.UserID, rec.data(), true); err != nil {
			return fmt.Errorf("updating profile: %w", err)
		}
		return nil
	}

	rec.Status = StatusSubmitted
	rec.Collection = f.Collection
	doc, err := c.docs.Add(ctx, f.Collection, rec.data())
	if err != nil {
		return fmt.Errorf("storing application: %w", err)
	}
	rec.ID = doc.ID
	rec.CreatedAt = doc.CreatedAt
	return nil
}

func (c *Coordinator) upload(ctx context.Context, f *flow.Flow, uid string, files FileStaging, sf StagedFile) (string, string, error) {
	rc, info, err := files.Open(sf.Slot)
	if err != nil {
		return "", "", fmt.Errorf("opening staged file: %w", err)
	}
	if rc == nil {
		return "", "", fmt.Errorf("%w: %s", ErrDocumentMissing, sf.Slot)
	}
	defer rc.Close()

	p := ObjectPath(f.StoragePrefix, uid, info.Slot, info.Filename)
	var body io.Reader = rc
	size := info.Size
	contentType := info.ContentType
	if c.encryptor != nil {
		var buf bytes.Buffer
		if err := c.encryptor.Encrypt(rc, &buf); err != nil {
			return "", "", fmt.Errorf("encrypting: %w", err)
		}
		p += EncryptedSuffix
		body = &buf
		size = int64(buf.Len())
		contentType = "application/octet-stream"
	}

	if err := c.objects.Upload(ctx, p, body, size, contentType); err != nil {
		return "", "", err
	}
	url, err := c.objects.PublicURL(ctx, p)
	if err != nil {
		return "", "", fmt.Errorf("resolving url: %w", err)
	}
	return p, url, nil
}

// Withdraw deletes a stored application and its documents. Objects are
// removed first so a failure leaves the record pointing at what remains.
func (c *Coordinator) Withdraw(ctx context.Context, f *flow.Flow, id string) error {
	doc, err := c.docs.Get(ctx, f.Collection, id)
	if err != nil {
		return fmt.Errorf("loading application: %w", err)
	}
	if doc == nil {
		return nil
	}
	rec := RecordFromDocument(doc)
	for slot, p := range rec.DocumentPaths {
		if err := c.objects.Delete(ctx, p); err != nil {
			return fmt.Errorf("deleting %s: %w", slot, err)
		}
	}
	if err := c.docs.Delete(ctx, f.Collection, id); err != nil {
		return fmt.Errorf("deleting application: %w", err)
	}
	c.logger.Info("application withdrawn", "flow", f.Kind, "record", id, "documents", len(rec.DocumentPaths))
	return nil
}

// ObjectPath builds <prefix>/<uid>/<slot>/<filename>, reducing filename to
// its base name.
func ObjectPath(prefix, uid, slot, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = slot
	}
	return path.Join(prefix, uid, slot, name)
}
