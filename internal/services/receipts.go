package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"raffle-system/internal/services/store"
	"raffle-system/monitoring"
	"raffle-system/utils"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReceiptUploader stores payment proofs. A failed upload is retried once in
// the fallback bucket under "receipts/"; a second failure yields an empty URL
// and the purchase goes on without a receipt.
type ReceiptUploader struct {
	files    store.FileStore
	primary  string
	fallback string
	monitor  *monitoring.Monitor
	now      func() time.Time
}

func NewReceiptUploader(files store.FileStore, primary, fallback string, monitor *monitoring.Monitor) *ReceiptUploader {
	return &ReceiptUploader{
		files:    files,
		primary:  primary,
		fallback: fallback,
		monitor:  monitor,
		now:      time.Now,
	}
}

func (u *ReceiptUploader) Upload(ctx context.Context, r Receipt) string {
	if len(r.Data) == 0 {
		return ""
	}

	name, err := ReceiptName(r, u.now())
	if err != nil {
		slog.Error("receipt name generation failed", "error", err)
		return ""
	}

	url, err := u.files.Upload(ctx, u.primary, name, r.Data)
	if err == nil {
		u.monitor.TrackReceiptUpload("primary", "ok")
		return url
	}
	u.monitor.TrackReceiptUpload("primary", "error")
	slog.Warn("receipt upload failed, trying fallback", "bucket", u.primary, "name", name, "error", err)

	url, err = u.files.Upload(ctx, u.fallback, "receipts/"+name, r.Data)
	if err == nil {
		u.monitor.TrackReceiptUpload("fallback", "ok")
		return url
	}
	u.monitor.TrackReceiptUpload("fallback", "error")
	slog.Error("receipt fallback upload failed, continuing without receipt", "bucket", u.fallback, "name", name, "error", err)
	return ""
}

// ReceiptName builds "<unix-ms>_<content digest>_<random>.<ext>".
func ReceiptName(r Receipt, now time.Time) (string, error) {
	sum := blake2b.Sum256(r.Data)
	code, err := utils.GenerateCode(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%s_%s%s", now.UnixMilli(), hex.EncodeToString(sum[:8]), code, receiptExt(r)), nil
}

func receiptExt(r Receipt) string {
	if ext := strings.ToLower(filepath.Ext(r.Filename)); ext != "" && len(ext) <= 6 {
		return ext
	}

	declared, _, _ := strings.Cut(r.ContentType, ";")
	if m := mimetype.Lookup(strings.ToLower(strings.TrimSpace(declared))); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := mimetype.Detect(r.Data).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}
