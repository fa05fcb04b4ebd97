package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-maildir"
	"github.com/mitchellh/go-homedir"

	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/message"
)

// lockName is the lock file created inside each mailbox directory.
const lockName = ".autofiler.lock"

// ErrInvalidMailbox is returned for mailbox names that do not stay inside
// the maildir root.
var ErrInvalidMailbox = errors.New("invalid mailbox name")

// Maildir is a Client operating on a tree of maildir directories. Every
// mutation locks only the mailbox it touches, for the duration of that
// mutation.
type Maildir struct {
	root string
}

// OpenMaildir opens the tree rooted at root, which must exist.
func OpenMaildir(root string) (*Maildir, error) {
	root, err := homedir.Expand(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("maildir root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("maildir root %s is not a directory", root)
	}
	return &Maildir{root: root}, nil
}

// Root returns the directory holding the mailboxes.
func (m *Maildir) Root() string { return m.root }

func (m *Maildir) dir(name string) (maildir.Dir, error) {
	p := filepath.FromSlash(name)
	if p == "" || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMailbox, name)
	}
	p = filepath.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMailbox, name)
	}
	return maildir.Dir(filepath.Join(m.root, p)), nil
}

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		fi, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

func (m *Maildir) exists(name string) error {
	d, err := m.dir(name)
	if err != nil {
		return err
	}
	if !isMaildir(string(d)) {
		return fmt.Errorf("%s: %w", name, ErrMailboxNotFound)
	}
	return nil
}

// withLock runs fn while holding the lock of the named mailbox.
func (m *Maildir) withLock(name string, fn func(d maildir.Dir) error) (err error) {
	d, err := m.dir(name)
	if err != nil {
		return err
	}
	unlock, err := lockFile(filepath.Join(string(d), lockName))
	if err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock %s: %w", name, uerr)
		}
	}()
	return fn(d)
}

func (m *Maildir) ListMailboxes(context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		switch d.Name() {
		case "cur", "new", "tmp":
			return filepath.SkipDir
		}
		if path == m.root || !isMaildir(path) {
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list maildirs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Maildir) CreateMailbox(ctx context.Context, name string) error {
	d, err := m.dir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(string(d), 0o700); err != nil {
		return err
	}
	return m.withLock(name, func(d maildir.Dir) error {
		if isMaildir(string(d)) {
			return nil
		}
		logging.FromContext(ctx).Info("creating mailbox", "mailbox", name)
		return d.Init()
	})
}

// Iterator reads the whole mailbox under its lock. Messages in new/ are read
// where they are; they only move to cur/ when an operation changes them.
func (m *Maildir) Iterator(ctx context.Context, name string) (Iterator, error) {
	if err := m.exists(name); err != nil {
		return nil, err
	}
	var it maildirIterator
	err := m.withLock(name, func(d maildir.Dir) error {
		paths := make(map[string]string)
		keys, err := d.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			paths[key] = ""
		}
		unseen, err := newFiles(d)
		if err != nil {
			return err
		}
		for key, file := range unseen {
			if _, ok := paths[key]; !ok {
				keys = append(keys, key)
			}
			paths[key] = filepath.Join(string(d), "new", file)
		}
		sort.Strings(keys)
		for _, key := range keys {
			msg, err := readMessage(d, key, paths[key])
			if err != nil {
				logging.FromContext(ctx).Warn("skipping unreadable message", "mailbox", name, "id", key, "error", err)
				continue
			}
			it = append(it, maildirEntry{id: MessageID(key), msg: msg})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return it, nil
}

// newFiles maps the keys of the messages in new/ to their file names.
func newFiles(d maildir.Dir) (map[string]string, error) {
	entries, err := os.ReadDir(filepath.Join(string(d), "new"))
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		key, _, _ := strings.Cut(name, ":")
		files[key] = name
	}
	return files, nil
}

// promote moves the message with key from new/ to cur/ so the maildir
// package can address it. Messages already in cur/ are left alone.
func promote(d maildir.Dir, key string) error {
	files, err := newFiles(d)
	if err != nil {
		return err
	}
	name, ok := files[key]
	if !ok {
		return nil
	}
	info := "2,"
	if _, i, found := strings.Cut(name, ":"); found {
		info = i
	}
	return os.Rename(filepath.Join(string(d), "new", name), filepath.Join(string(d), "cur", key+":"+info))
}

func readMessage(d maildir.Dir, key, path string) (*message.Message, error) {
	var r io.ReadCloser
	var err error
	if path != "" {
		r, err = os.Open(path)
	} else {
		r, err = d.Open(key)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return message.Parse(raw)
}

// CopyMessage copies the message file, flags included, under the lock of
// the destination, creating it when needed.
func (m *Maildir) CopyMessage(ctx context.Context, src, dest string, id MessageID, _ *message.Message) error {
	if err := m.exists(src); err != nil {
		return err
	}
	if _, err := m.dir(dest); err != nil {
		return err
	}
	var from maildir.Dir
	err := m.withLock(src, func(d maildir.Dir) error {
		from = d
		return promote(d, string(id))
	})
	if err != nil {
		return err
	}
	if err := m.CreateMailbox(ctx, dest); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	return m.withLock(dest, func(d maildir.Dir) error {
		if _, err := from.Copy(d, string(id)); err != nil {
			return fmt.Errorf("copy %s to %s: %w", id, dest, err)
		}
		return nil
	})
}

// MoveMessage copies under the destination lock, then deletes under the
// source lock.
func (m *Maildir) MoveMessage(ctx context.Context, src, dest string, id MessageID, msg *message.Message) error {
	return Move(ctx, m, src, dest, id, msg)
}

func (m *Maildir) DeleteMessage(_ context.Context, src string, id MessageID, _ *message.Message) error {
	if err := m.exists(src); err != nil {
		return err
	}
	return m.withLock(src, func(d maildir.Dir) error {
		if err := promote(d, string(id)); err != nil {
			return err
		}
		if err := d.Remove(string(id)); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		return nil
	})
}

func (m *Maildir) setFlag(src string, id MessageID, flag maildir.Flag, on bool) error {
	if err := m.exists(src); err != nil {
		return err
	}
	return m.withLock(src, func(d maildir.Dir) error {
		if err := promote(d, string(id)); err != nil {
			return err
		}
		flags, err := d.Flags(string(id))
		if err != nil {
			return err
		}
		var out []maildir.Flag
		for _, f := range flags {
			if f != flag {
				out = append(out, f)
			}
		}
		if on {
			out = append(out, flag)
		}
		return d.SetFlags(string(id), out)
	})
}

func (m *Maildir) SetFlagged(_ context.Context, src string, id MessageID, _ *message.Message, flagged bool) error {
	return m.setFlag(src, id, maildir.FlagFlagged, flagged)
}

func (m *Maildir) SetRead(_ context.Context, src string, id MessageID, _ *message.Message, read bool) error {
	return m.setFlag(src, id, maildir.FlagSeen, read)
}

// Expunge does nothing: deletions are immediate.
func (m *Maildir) Expunge(context.Context) error { return nil }

func (m *Maildir) Close() error { return nil }

// Deliver stores raw in the named mailbox, creating it when needed, and
// returns the new key.
func (m *Maildir) Deliver(ctx context.Context, name string, raw []byte, flags ...maildir.Flag) (MessageID, error) {
	if err := m.CreateMailbox(ctx, name); err != nil {
		return "", err
	}
	var key string
	err := m.withLock(name, func(d maildir.Dir) error {
		k, w, err := d.Create(flags)
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			w.Close()
			return err
		}
		key = k
		return w.Close()
	})
	if err != nil {
		return "", fmt.Errorf("deliver to %s: %w", name, err)
	}
	return MessageID(key), nil
}

type maildirEntry struct {
	id  MessageID
	msg *message.Message
}

type maildirIterator []maildirEntry

func (it maildirIterator) Len(context.Context) (int, error) { return len(it), nil }

func (it maildirIterator) Walk(ctx context.Context, fn func(MessageID, *message.Message) error) error {
	for _, e := range it {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.id, e.msg); err != nil {
			return err
		}
	}
	return nil
}

var _ Client = (*Maildir)(nil)
