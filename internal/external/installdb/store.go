// Package installdb implements the installation-bookkeeping relational
// store: the forge app's webhook keeps the installation/repository
// tables current, and the core only reads the repoFullName ->
// installationId lookup it needs to mint clone and PR credentials.
// Backed by gorm over a pure-Go (CGO-free) SQLite driver, mirroring the
// gorm-model-plus-AutoMigrate shape used for relational bookkeeping
// elsewhere in the retrieval pack.
package installdb

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"codeforge/internal/domain/installation"
)

// installationRow and repositoryRow are the gorm-mapped persistence
// shapes for installation.Installation and installation.Repository.
// Kept separate from the domain types so a storage-layer column rename
// never leaks into the domain package.
type installationRow struct {
	InstallationID int64      `gorm:"primaryKey"`
	AccountLogin   string     `gorm:"index"`
	AccountType    string
	InstalledAt    time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
}

func (installationRow) TableName() string { return "installations" }

type repositoryRow struct {
	GithubID       int64  `gorm:"primaryKey"`
	Name           string
	FullName       string `gorm:"uniqueIndex"`
	Private        bool
	InstallationID int64 `gorm:"index"`
	AddedAt        time.Time
	RemovedAt      *time.Time `gorm:"index"`
}

func (repositoryRow) TableName() string { return "repositories" }

// Store implements installation.Store over a SQLite file at path.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and runs
// the installation/repository schema migration.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open installation store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&installationRow{}, &repositoryRow{}); err != nil {
		return nil, fmt.Errorf("migrate installation store: %w", err)
	}
	return &Store{db: db}, nil
}

var _ installation.Store = (*Store)(nil)

func (s *Store) UpsertInstallation(i installation.Installation) error {
	row := installationRow{
		InstallationID: i.InstallationID,
		AccountLogin:   i.AccountLogin,
		AccountType:    i.AccountType,
		InstalledAt:    i.InstalledAt,
		UpdatedAt:      i.UpdatedAt,
		DeletedAt:      i.DeletedAt,
	}
	return s.db.Save(&row).Error
}

func (s *Store) RemoveInstallation(installationID int64) error {
	now := time.Now()
	return s.db.Model(&installationRow{}).
		Where("installation_id = ?", installationID).
		Updates(map[string]any{"deleted_at": now, "updated_at": now}).Error
}

func (s *Store) UpsertRepository(r installation.Repository) error {
	row := repositoryRow{
		GithubID:       r.GithubID,
		Name:           r.Name,
		FullName:       r.FullName,
		Private:        r.Private,
		InstallationID: r.InstallationID,
		AddedAt:        r.AddedAt,
		RemovedAt:      r.RemovedAt,
	}
	return s.db.Save(&row).Error
}

func (s *Store) RemoveRepository(githubID int64) error {
	now := time.Now()
	return s.db.Model(&repositoryRow{}).
		Where("github_id = ?", githubID).
		Update("removed_at", now).Error
}

func (s *Store) InstallationIDForRepo(fullName string) (int64, bool, error) {
	var row repositoryRow
	err := s.db.Where("full_name = ? AND removed_at IS NULL", fullName).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup installation for %s: %w", fullName, err)
	}
	return row.InstallationID, true, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
