// Package gitops wraps the command runner with the handful of read-only git
// invocations the workflow library needs (commit metadata, diffs, repo
// status). Writes (commit/push/branch) are deliberately absent; workflows
// only ever read repository state.
package gitops

import (
	"context"
	"strconv"
	"strings"

	"github.com/githubnext/gh-aw-core/internal/runner"
)

// Reader issues read-only git subprocess calls via the Command Runner.
type Reader struct {
	run  *runner.Runner
	root string
}

func NewReader(run *runner.Runner, projectRoot string) *Reader {
	return &Reader{run: run, root: projectRoot}
}

func (r *Reader) git(ctx context.Context, args ...string) (string, error) {
	result, err := r.run.Run(ctx, runner.Options{
		Binary:      "git",
		Args:        args,
		Dir:         r.root,
		ProjectRoot: r.root,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(result.Stdout, "\n"), nil
}

// CommitMetadata is the subset of `git show` fields validate-last-commit needs.
type CommitMetadata struct {
	Ref     string
	Author  string
	Subject string
	Body    string
}

func (r *Reader) CommitMetadata(ctx context.Context, ref string) (CommitMetadata, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := r.git(ctx, "show", "-s", "--format=%H%n%an%n%s%n%b", ref)
	if err != nil {
		return CommitMetadata{}, err
	}
	lines := strings.SplitN(out, "\n", 4)
	meta := CommitMetadata{Ref: ref}
	if len(lines) > 0 {
		meta.Ref = lines[0]
	}
	if len(lines) > 1 {
		meta.Author = lines[1]
	}
	if len(lines) > 2 {
		meta.Subject = lines[2]
	}
	if len(lines) > 3 {
		meta.Body = lines[3]
	}
	return meta, nil
}

// Diff returns the diff for ref against its parent (validate-last-commit) or
// the staged diff when ref is empty (pre-commit-validate).
func (r *Reader) Diff(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return r.git(ctx, "diff", "--cached")
	}
	return r.git(ctx, "show", ref)
}

// StagedFiles lists paths currently staged for commit.
func (r *Reader) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// RepoInfo is the init-session workflow's gathered state.
type RepoInfo struct {
	Branch        string
	StagedFiles   []string
	ModifiedFiles []string
	RecentCommits []string
}

func (r *Reader) RepoInfo(ctx context.Context, recentN int) (RepoInfo, error) {
	branch, err := r.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return RepoInfo{}, err
	}
	staged, err := r.StagedFiles(ctx)
	if err != nil {
		return RepoInfo{}, err
	}
	modifiedOut, err := r.git(ctx, "diff", "--name-only")
	if err != nil {
		return RepoInfo{}, err
	}
	if recentN <= 0 {
		recentN = 10
	}
	logOut, err := r.git(ctx, "log", "-n", strconv.Itoa(recentN), "--format=%h %s")
	if err != nil {
		return RepoInfo{}, err
	}
	return RepoInfo{
		Branch:        branch,
		StagedFiles:   staged,
		ModifiedFiles: splitNonEmptyLines(modifiedOut),
		RecentCommits: splitNonEmptyLines(logOut),
	}, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

