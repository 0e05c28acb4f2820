package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpane/marketsync/internal/database"
)

const (
	backupPrefix     = "marketsync-backup-"
	backupTimeLayout = "2006-01-02-150405"
	manifestFilename = "backup-manifest.json"

	// minBackupsToKeep is the floor for rotation regardless of age.
	minBackupsToKeep = 3
)

// ObjectStore is the remote side of the backup service. The S3 client
// implements it; tests substitute an in-memory fake.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Manifest is the metadata file packed into every backup archive.
type Manifest struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseManifest `json:"databases"`
}

// DatabaseManifest describes a single database snapshot in the archive.
type DatabaseManifest struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a backup archive in the object store.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the SQLite databases with VACUUM INTO,
// archives them with a checksummed manifest, and uploads the archive
// to an object store. A nil store leaves the service disabled.
type BackupService struct {
	databases     map[string]*database.DB
	store         ObjectStore
	stagingDir    string
	retentionDays int
	log           zerolog.Logger
	now           func() time.Time
}

// NewBackupService creates a backup service. retentionDays of 0 keeps
// archives forever.
func NewBackupService(
	databases map[string]*database.DB,
	store ObjectStore,
	stagingDir string,
	retentionDays int,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		databases:     databases,
		store:         store,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "backup").Logger(),
		now:           time.Now,
	}
}

// Enabled reports whether an object store is configured.
func (s *BackupService) Enabled() bool { return s.store != nil }

// CreateAndUpload snapshots every database, packs the snapshots with a
// manifest into a tar.gz archive, and uploads it.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("backup store not configured")
	}

	s.log.Info().Msg("Starting backup")
	startTime := s.now()

	staging, err := os.MkdirTemp(s.stagingDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	manifest := Manifest{
		Timestamp: startTime.UTC(),
		Databases: make([]DatabaseManifest, 0, len(s.databases)),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		snapshotPath := filepath.Join(staging, name+".db")

		s.log.Debug().Str("database", name).Msg("Snapshotting database")
		if err := s.snapshot(s.databases[name], snapshotPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}

		checksum, err := checksumFile(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseManifest{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	manifestPath := filepath.Join(staging, manifestFilename)
	if err := writeManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	archiveName := backupPrefix + startTime.UTC().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		files = append(files, name+".db")
	}
	files = append(files, manifestFilename)

	if err := createArchive(archivePath, staging, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Backup uploaded")
	return nil
}

// snapshot writes a consistent point-in-time copy of the database.
// VACUUM INTO produces a compacted standalone file without blocking
// concurrent readers.
func (s *BackupService) snapshot(db *database.DB, dest string) error {
	if _, err := db.Conn().Exec("VACUUM INTO ?", dest); err != nil {
		return err
	}
	return nil
}

// ListBackups lists the backup archives in the store, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("backup store not configured")
	}

	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupKey(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping object with unparsable backup key")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes archives older than the retention period, always
// keeping the newest minBackupsToKeep.
func (s *BackupService) Rotate(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("backup store not configured")
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	if len(backups) <= minBackupsToKeep {
		s.log.Info().Int("count", len(backups)).Msg("Too few backups to rotate")
		return nil
	}

	var cutoff time.Time
	if s.retentionDays > 0 {
		cutoff = s.now().AddDate(0, 0, -s.retentionDays)
	}

	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep {
			continue
		}
		// Retention 0 keeps everything beyond the minimum.
		if s.retentionDays == 0 || !backup.Timestamp.Before(cutoff) {
			continue
		}

		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().
				Err(err).
				Str("key", backup.Key).
				Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().
			Str("key", backup.Key).
			Time("timestamp", backup.Timestamp).
			Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return nil
}

// parseBackupKey extracts the timestamp from an archive key like
// marketsync-backup-2026-01-08-143022.tar.gz.
func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".tar.gz")
	ts, err := time.Parse(backupTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// checksumFile computes the SHA-256 checksum of a file.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeManifest writes the backup manifest as indented JSON.
func writeManifest(path string, manifest Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

// createArchive packs the named files from sourceDir into a tar.gz
// archive at archivePath.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzw := gzip.NewWriter(archiveFile)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

// addFileToArchive appends one file to a tar stream.
func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}

// BackupJob is the scheduled wrapper around the backup service. When
// the service is disabled it is a logged no-op.
type BackupJob struct {
	service *BackupService
	log     zerolog.Logger
}

// NewBackupJob creates the nightly backup job.
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *BackupJob) Name() string { return "backup" }

// Run implements scheduler.Job.
func (j *BackupJob) Run() error {
	if !j.service.Enabled() {
		j.log.Debug().Msg("Backup store not configured, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.service.Rotate(ctx)
}
