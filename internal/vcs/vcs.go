// Package vcs stamps build sessions with the state of the workspace's
// git repository.
package vcs

import (
	"fmt"

	"github.com/go-git/go-git/v5"
)

// Revision identifies the commit a session was built from.
type Revision struct {
	Commit string
	Branch string
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) < 8 {
		return r.Commit
	}
	return r.Commit[:8]
}

// Describe resolves the revision of the git repository containing dir.
// Hosts usually invoke builds from a package subdirectory, so the lookup
// walks up to the repository root. A workspace without git history is an
// error the caller is expected to downgrade to "unstamped".
func Describe(dir string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Revision{}, fmt.Errorf("open repository at %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	rev := Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}
	return rev, nil
}
