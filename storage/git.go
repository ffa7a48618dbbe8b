package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/bartke/accountstream/account"
)

const gitAccountDir = "accounts"

// GitRepository implements the Storage interface for a Git repository. Each
// account is a msgpack file accounts/{address}.mp and every update is one
// commit.
type GitRepository struct {
	repo *git.Repository
	root string
	keys *account.KeyCache

	// serializes worktree writes
	mu sync.Mutex

	name         string
	email        string
	push         bool
	syncInterval time.Duration
	errorChannel chan<- error
}

type Params struct {
	RepoPath string

	// optional
	Name         string
	Email        string
	SyncInterval time.Duration
	// Push pushes every commit to the default remote
	Push      bool
	ErrorChan chan<- error
}

// NewGitRepository creates a new GitRepository type that implements the Storage interface
func NewGitRepository(p Params) (Storage, error) {
	repo, err := git.PlainOpen(p.RepoPath)
	if err != nil {
		return nil, err
	}
	if p.SyncInterval == 0 {
		p.SyncInterval = DefaultSyncInterval
	}
	if p.Name == "" {
		p.Name = "accountstream"
	}

	return &GitRepository{
		repo:         repo,
		root:         p.RepoPath,
		keys:         account.NewKeyCache(),
		name:         p.Name,
		email:        p.Email,
		push:         p.Push,
		syncInterval: p.SyncInterval,
		errorChannel: p.ErrorChan,
	}, nil
}

func (r *GitRepository) forwardError(err error) {
	if r.errorChannel != nil {
		r.errorChannel <- err
	}
}

func (r *GitRepository) fileName(k account.Key) string {
	return path.Join(gitAccountDir, r.keys.String(k)+".mp")
}

// head returns the tree of the HEAD commit, nil for a repository without
// commits.
func (r *GitRepository) head() (*object.Commit, *object.Tree, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve HEAD reference: %w", err)
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve tree: %w", err)
	}
	return commit, tree, nil
}

func (r *GitRepository) ListAccounts() ([]account.Key, error) {
	_, tree, err := r.head()
	if err != nil || tree == nil {
		return nil, err
	}

	var keys []account.Key
	err = tree.Files().ForEach(func(file *object.File) error {
		dir, name := path.Split(file.Name)
		if dir != gitAccountDir+"/" || path.Ext(name) != ".mp" {
			return nil
		}
		k, err := r.keys.Parse(strings.TrimSuffix(name, ".mp"))
		if err != nil {
			return fmt.Errorf("unexpected file '%s': %w", file.Name, err)
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate files: %w", err)
	}

	return keys, nil
}

func (r *GitRepository) read(tree *object.Tree, k account.Key) (Account, bool, error) {
	file, err := tree.File(r.fileName(k))
	if errors.Is(err, object.ErrFileNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to access file '%s': %w", r.fileName(k), err)
	}

	value, err := file.Contents()
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to read file '%s': %w", r.fileName(k), err)
	}
	a, err := decodeAccount([]byte(value))
	return a, err == nil, err
}

func (r *GitRepository) Sync(keys []account.Key) (map[account.Key]Account, error) {
	data := make(map[account.Key]Account)

	_, tree, err := r.head()
	if err != nil || tree == nil {
		return data, err
	}

	for _, key := range keys {
		a, ok, err := r.read(tree, key)
		if err != nil {
			return nil, err
		}
		if ok {
			data[key] = a
		}
	}

	return data, nil
}

func (r *GitRepository) Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error) {
	commit, tree, err := r.head()
	if err != nil {
		return nil, err
	}

	var lastCommit plumbing.Hash
	lastSeq := make(map[account.Key]account.Sequence, len(keys))
	if commit != nil {
		lastCommit = commit.Hash
		for _, key := range keys {
			if a, ok, err := r.read(tree, key); err != nil {
				return nil, err
			} else if ok {
				lastSeq[key] = a.Seq
			}
		}
	}

	out := make(chan Account)
	go func() {
		defer close(out)
		ticker := time.NewTicker(r.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			commit, tree, err := r.head()
			if err != nil {
				r.forwardError(err)
				return
			}

			// if no commit has been made since the last sync, skip
			if commit == nil || commit.Hash == lastCommit {
				continue
			}

			for _, key := range keys {
				a, ok, err := r.read(tree, key)
				if err != nil {
					r.forwardError(err)
					return
				}
				if !ok || a.Seq <= lastSeq[key] {
					continue
				}

				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
				lastSeq[key] = a.Seq
			}
			lastCommit = commit.Hash
		}
	}()
	return out, nil
}

func (r *GitRepository) PushUpdate(ctx context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}

	_, tree, err := r.head()
	if err != nil {
		return err
	}
	a.Seq = 1
	if tree != nil {
		current, ok, err := r.read(tree, a.Key)
		if err != nil {
			return err
		}
		if ok {
			a.Seq = current.Seq + 1
		}
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = timeNow()
	}

	value, err := encodeAccount(a)
	if err != nil {
		return err
	}

	// Write the account to its file
	name := r.fileName(a.Key)
	if err := os.MkdirAll(filepath.Join(r.root, gitAccountDir), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.root, filepath.FromSlash(name)), value, 0o644); err != nil {
		return err
	}

	// Commit the changes to the branch
	if _, err := w.Add(name); err != nil {
		return err
	}
	_, err = w.Commit(fmt.Sprintf("Update %s to seq %d", r.keys.String(a.Key), a.Seq), &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.name,
			Email: r.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return err
	}

	if !r.push {
		return nil
	}

	// Push the changes to the remote repository
	err = r.repo.PushContext(ctx, &git.PushOptions{})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	return nil
}
