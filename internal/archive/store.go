// Package archive writes closed-day queue snapshots to S3 for reporting.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/frontdesk-queue/internal/appointments"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
)

const snapshotVersion = "1.0"

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives doctor days to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *slog.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// DayKey returns the object key for a doctor's day. Re-archiving a day
// overwrites the same object.
func DayKey(clinicID, doctorID string, day time.Time) string {
	return fmt.Sprintf("queue/v1/by-date/%d/%02d/%02d/%s/%s.json",
		day.Year(), day.Month(), day.Day(), clinicID, doctorID)
}

// ArchiveDay writes the snapshot as JSON and appends it to the monthly manifest.
func (s *Store) ArchiveDay(ctx context.Context, snap *DaySnapshot) error {
	if !s.Enabled() || snap == nil {
		return nil
	}
	if snap.Version == "" {
		snap.Version = snapshotVersion
	}
	if snap.ArchivedAt.IsZero() {
		snap.ArchivedAt = time.Now().UTC()
	}
	day, err := clock.ParseDayKey(snap.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("archive: day %q: %w", snap.Date, err)
	}
	if snap.Appointments == nil {
		snap.Appointments = []appointments.Appointment{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	key := DayKey(snap.ClinicID, snap.DoctorID, day)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archived doctor day to S3",
		"doctor_id", snap.DoctorID,
		"date", snap.Date,
		"s3_key", key,
		"appointments", len(snap.Appointments),
	)

	entry := ManifestEntry{
		ClinicID:   snap.ClinicID,
		DoctorID:   snap.DoctorID,
		Date:       snap.Date,
		S3Key:      key,
		Completed:  snap.Totals.Completed,
		NoShows:    snap.Totals.NoShows,
		ArchivedAt: snap.ArchivedAt.Format(time.RFC3339),
	}
	if err := s.appendManifest(ctx, day, entry); err != nil {
		// The day itself is already archived.
		s.logger.Warn("failed to append manifest", "error", err, "doctor_id", snap.DoctorID, "date", snap.Date)
	}
	return nil
}

// appendManifest writes the entry into the monthly JSONL manifest. S3 has no
// append, so this is read-modify-write.
func (s *Store) appendManifest(ctx context.Context, day time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	manifestKey := fmt.Sprintf("queue/v1/manifests/%d-%02d.jsonl", day.Year(), day.Month())

	var existing []byte
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	// Re-archiving a day replaces its manifest line.
	var buf bytes.Buffer
	for _, prior := range bytes.Split(existing, []byte("\n")) {
		if len(bytes.TrimSpace(prior)) == 0 {
			continue
		}
		var seen ManifestEntry
		if json.Unmarshal(prior, &seen) == nil && seen.S3Key == entry.S3Key {
			continue
		}
		buf.Write(prior)
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}
