package forge

import (
	"regexp"
	"strings"

	cferrors "codeforge/internal/shared/errors"
)

// cloneURLPattern is the only shape of repository URL the clone step
// accepts; anything else is rejected before ever reaching a sandbox.
var cloneURLPattern = regexp.MustCompile(`^https://github\.com/[\w-]+/[\w.-]+(?:\.git)?$`)

// ValidateCloneURL reports an InvalidInput error if repoURL is not a
// plain github.com HTTPS URL.
func ValidateCloneURL(repoURL string) error {
	if !cloneURLPattern.MatchString(repoURL) {
		return cferrors.New(cferrors.KindInvalidInput, "repository URL must match https://github.com/<owner>/<repo>[.git]")
	}
	return nil
}

// RewriteCloneURL rewrites a validated github.com HTTPS clone URL to
// embed token as an x-access-token credential, so git clone/push
// authenticate as the forge-app installation without the token ever
// appearing in process argv.
func RewriteCloneURL(repoURL, token string) string {
	rest := strings.TrimPrefix(repoURL, "https://")
	return "https://x-access-token:" + token + "@" + rest
}

// OwnerRepo splits a validated github.com clone URL into its owner and
// repo path segments.
func OwnerRepo(repoURL string) (owner, repo string, ok bool) {
	rest := strings.TrimPrefix(repoURL, "https://github.com/")
	rest = strings.TrimSuffix(rest, ".git")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
