package source

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// completeSentinel marks a checkout directory as fully materialized. A crash
// mid-fetch leaves the sentinel missing so the next request starts over.
const completeSentinel = ".quarry-complete"

var fullCommitRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// PinGit resolves a mutable git reference (branch, tag, or abbreviated
// revision) to an exact commit without fetching the repository contents.
func (r *Resolver) PinGit(ctx context.Context, spec GitSpec) (PinnedGit, error) {
	rev := strings.TrimSpace(spec.Rev)
	if fullCommitRe.MatchString(rev) {
		return PinnedGit{URL: spec.URL, Commit: rev}, nil
	}

	args := []string{"ls-remote", spec.URL}
	if rev == "" {
		args = append(args, "HEAD")
	} else {
		args = append(args, rev, "refs/heads/"+rev, "refs/tags/"+rev)
	}

	out, err := r.git(ctx, "", args...)
	if err != nil {
		return PinnedGit{}, fmt.Errorf("resolve %s@%s: %w", spec.URL, rev, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 1 && fullCommitRe.MatchString(fields[0]) {
			return PinnedGit{URL: spec.URL, Commit: fields[0]}, nil
		}
	}
	return PinnedGit{}, fmt.Errorf("resolve %s@%s: no matching ref", spec.URL, rev)
}

// CheckoutGit materializes an exact commit into the content-addressed git
// cache. A previously completed checkout is reused as-is: the commit cannot
// change, so neither can the directory contents.
func (r *Resolver) CheckoutGit(ctx context.Context, pin PinnedGit) (Checkout, error) {
	pinned := Pinned{Git: &pin}
	dir := filepath.Join(r.dirs.Git(), checkoutDirName(pinned))

	if _, err := os.Stat(filepath.Join(dir, completeSentinel)); err == nil {
		return Checkout{Path: dir, Pinned: pinned}, nil
	}

	// Start from scratch: a partial directory from an interrupted fetch is
	// not trustworthy.
	if err := os.RemoveAll(dir); err != nil {
		return Checkout{}, fmt.Errorf("clear stale checkout: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkout{}, fmt.Errorf("create checkout directory: %w", err)
	}

	r.logger.Info("checking out git source", "url", pin.URL, "commit", pin.Commit)

	steps := [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", pin.URL},
		{"fetch", "--quiet", "--depth", "1", "origin", pin.Commit},
		{"checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, step := range steps {
		if _, err := r.git(ctx, dir, step...); err != nil {
			_ = os.RemoveAll(dir)
			return Checkout{}, fmt.Errorf("checkout %s@%s: %w", pin.URL, pin.Commit, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, completeSentinel), nil, 0o644); err != nil {
		return Checkout{}, fmt.Errorf("mark checkout complete: %w", err)
	}
	return Checkout{Path: dir, Pinned: pinned}, nil
}

// git runs the git CLI, capturing combined diagnostics on failure.
func (r *Resolver) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// checkoutDirName derives the cache directory name for a pin. Immutable pins
// are content-addressed by their exact description; path pins never reach the
// cache so the asymmetry in Pinned.Identity carries through unchanged.
func checkoutDirName(pin Pinned) string {
	sum := blake3.Sum256([]byte("checkout-v1\n" + pin.Identity()))
	return hex.EncodeToString(sum[:16])
}
