// Package patch applies approved unified diffs to the working tree. Agents
// never touch files; every mutation goes through an Engine after an explicit
// human approval.
package patch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"quorum/pkg/logx"
	"quorum/pkg/proto"
)

// Engine applies one unified diff to one target path. Implementations must
// validate before mutating so a rejected diff leaves the tree untouched.
type Engine interface {
	Apply(ctx context.Context, diffText, targetPath string) error
}

// Verifier runs after a successful apply. A verification failure fails the
// patch record; the filesystem is left in whatever state the engine's
// rollback produced.
type Verifier func(targetPath string) error

const applyTimeout = 30 * time.Second

// GitEngine shells out to git apply. A dry run with --check precedes the
// real apply, so a diff that does not fit the tree never mutates it.
type GitEngine struct {
	// WorkDir is the repository root the diff paths are relative to.
	WorkDir string
	// Verify, when set, is called with the absolute target path after a
	// successful apply.
	Verify Verifier

	logger *logx.Logger
}

// NewGitEngine creates an engine rooted at workDir.
func NewGitEngine(workDir string) *GitEngine {
	return &GitEngine{WorkDir: workDir, logger: logx.NewLogger("patch")}
}

// Apply validates and applies the diff. Every failure is reported as a
// PatchApplicationError so callers can keep the owning task running.
func (e *GitEngine) Apply(ctx context.Context, diffText, targetPath string) error {
	if strings.TrimSpace(diffText) == "" {
		return &proto.PatchApplicationError{TargetPath: targetPath, Err: fmt.Errorf("empty diff")}
	}
	if targetPath == "" || filepath.IsAbs(targetPath) || strings.Contains(targetPath, "..") {
		return &proto.PatchApplicationError{TargetPath: targetPath, Err: fmt.Errorf("target path must be relative to the work dir")}
	}
	if _, err := os.Stat(e.WorkDir); err != nil {
		return &proto.PatchApplicationError{TargetPath: targetPath, Err: fmt.Errorf("work dir unavailable: %w", err)}
	}

	if err := e.git(ctx, diffText, "apply", "--check", "-"); err != nil {
		return &proto.PatchApplicationError{TargetPath: targetPath, Err: fmt.Errorf("dry run rejected diff: %w", err)}
	}
	if err := e.git(ctx, diffText, "apply", "-"); err != nil {
		return &proto.PatchApplicationError{TargetPath: targetPath, Err: err}
	}
	e.logger.Info("applied patch to %s", targetPath)

	if e.Verify != nil {
		if err := e.Verify(filepath.Join(e.WorkDir, targetPath)); err != nil {
			return &proto.PatchApplicationError{TargetPath: targetPath, Err: fmt.Errorf("post-apply verification failed: %w", err)}
		}
	}
	return nil
}

func (e *GitEngine) git(ctx context.Context, stdin string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.WorkDir
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// FileExistsVerifier is the default post-apply check: the target must exist
// and be a regular non-empty file. Deletion patches need a custom verifier.
func FileExistsVerifier(targetPath string) error {
	info, err := os.Stat(targetPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", targetPath)
	}
	return nil
}
