package storage

// ArchiveRecord represents one attachment that was written to the archive.
type ArchiveRecord struct {
	UserID       string
	Guild        string
	Channel      string
	Thread       string
	Filename     string
	FilePath     string
	MessageLink  string
	SizeBytes    int64
	DownloadedAt string
}

// ArchiveTotals aggregates the ledger.
type ArchiveTotals struct {
	Files int64
	Bytes int64
}

// GuildTotal aggregates the ledger per guild.
type GuildTotal struct {
	Guild string
	Files int64
	Bytes int64
}

// ArchiveWriteRepository records archived attachments.
type ArchiveWriteRepository interface {
	TrackDownload(rec ArchiveRecord) error
}

// ArchiveReadRepository exposes read-only aggregates for the stats API.
type ArchiveReadRepository interface {
	Totals() (ArchiveTotals, error)
	GuildTotals() ([]GuildTotal, error)
}
