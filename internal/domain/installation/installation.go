// Package installation defines the installation/repository bookkeeping
// records the core reads. These are external-collaborator
// records — the forge app's webhook keeps them current — but the core
// owns the repoFullName -> installationId lookup used to mint clone and
// PR credentials.
package installation

import "time"

// Installation is a forge-app installation (e.g. a GitHub App install).
type Installation struct {
	InstallationID int64      `gorm:"primaryKey" json:"installation_id"`
	AccountLogin   string     `json:"account_login"`
	AccountType    string     `json:"account_type"`
	InstalledAt    time.Time  `json:"installed_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Repository is a repo covered by an installation.
type Repository struct {
	GithubID       int64      `gorm:"primaryKey" json:"github_id"`
	Name           string     `json:"name"`
	FullName       string     `gorm:"uniqueIndex" json:"full_name"`
	Private        bool       `json:"private"`
	InstallationID int64      `gorm:"index" json:"installation_id"`
	AddedAt        time.Time  `json:"added_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// Store is the relational bookkeeping port.
type Store interface {
	UpsertInstallation(i Installation) error
	RemoveInstallation(installationID int64) error
	UpsertRepository(r Repository) error
	RemoveRepository(githubID int64) error
	// InstallationIDForRepo resolves repoFullName -> installationId.
	InstallationIDForRepo(fullName string) (int64, bool, error)
}
