package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/discord_archiver/internal/storage"
)

// ArchiveRepository implements storage.ArchiveWriteRepository and
// storage.ArchiveReadRepository on top of SQLite.
type ArchiveRepository struct {
	db *sql.DB
}

func NewArchiveRepository(dbConn *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: dbConn}
}

func (r *ArchiveRepository) TrackDownload(rec storage.ArchiveRecord) error {
	downloadedAt := rec.DownloadedAt
	if downloadedAt == "" {
		downloadedAt = time.Now().Format(time.RFC3339)
	}

	_, err := r.db.Exec(
		`INSERT INTO archived_files (user_id, guild, channel, thread, filename, file_path, message_link, size_bytes, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Guild, rec.Channel, rec.Thread, rec.Filename, rec.FilePath, rec.MessageLink, rec.SizeBytes, downloadedAt,
	)

	return err
}

func (r *ArchiveRepository) Totals() (storage.ArchiveTotals, error) {
	var totals storage.ArchiveTotals

	row := r.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM archived_files`)
	if err := row.Scan(&totals.Files, &totals.Bytes); err != nil {
		return storage.ArchiveTotals{}, err
	}

	return totals, nil
}

func (r *ArchiveRepository) GuildTotals() ([]storage.GuildTotal, error) {
	rows, err := r.db.Query(
		`SELECT guild, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM archived_files
		GROUP BY guild
		ORDER BY guild`)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var totals []storage.GuildTotal

	for rows.Next() {
		var total storage.GuildTotal
		if err := rows.Scan(&total.Guild, &total.Files, &total.Bytes); err != nil {
			return nil, err
		}

		totals = append(totals, total)
	}

	return totals, rows.Err()
}
