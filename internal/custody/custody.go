// Package custody stores submitted artifacts and moves them between the
// pending, verified and rejected areas as verdicts are recorded.
//
// Layout under the root directory:
//
//	pending/<hash>.<ext>   awaiting a verdict
//	verified/<hash>.<ext>  approved; the only area served publicly
//	rejected/<hash>.<ext>  rejected or invalid
//
// A relocation is a rename, never a copy, so after a verdict the bytes live
// in exactly one area.
package custody

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"go.uber.org/zap"
)

// ErrBadFilename is returned for names that would escape the custody root.
var ErrBadFilename = errors.New("custody: invalid filename")

// VerifiedRoute is the URL prefix the verified area is served under.
const VerifiedRoute = "/uploads/verified"

// Manager owns the custody directories.
type Manager struct {
	root     string
	basePath string
	logger   *zap.Logger
}

// NewManager creates a Manager rooted at root and creates its area
// directories. basePath is prepended to public file URLs; it may be empty.
func NewManager(root, basePath string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		root:     root,
		basePath: strings.TrimRight(basePath, "/"),
		logger:   logger,
	}
	for _, area := range []model.CustodyState{model.CustodyPending, model.CustodyVerified, model.CustodyRejected} {
		if err := os.MkdirAll(m.Dir(area), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", area, err)
		}
	}
	return m, nil
}

// Dir returns the directory of a custody area.
func (m *Manager) Dir(area model.CustodyState) string {
	return filepath.Join(m.root, string(area))
}

// Filename returns the stored name of an artifact: <hash>.<ext>.
func Filename(hash, ext string) string {
	return hash + "." + ext
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return ErrBadFilename
	}
	return nil
}

// Store writes data to the pending area and returns its stored filename.
func (m *Manager) Store(hash, ext string, data []byte) (string, error) {
	name := Filename(hash, ext)
	if err := checkName(name); err != nil {
		return "", err
	}
	dst := filepath.Join(m.Dir(model.CustodyPending), name)

	// Write to a temp file first so a crash never leaves a truncated
	// artifact under its final name.
	tmp, err := os.CreateTemp(m.Dir(model.CustodyPending), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact: %w", err)
	}

	m.logger.Debug("custody: stored",
		zap.String("file", name),
		zap.Int("bytes", len(data)),
	)
	return name, nil
}

// Relocate moves filename from pending to the area matching to. It is a
// no-op when filename is empty (hash-only submission) or when the file is no
// longer in pending.
func (m *Manager) Relocate(filename string, to model.CustodyState) error {
	if filename == "" {
		return nil
	}
	if err := checkName(filename); err != nil {
		return err
	}
	if to != model.CustodyVerified && to != model.CustodyRejected {
		return fmt.Errorf("custody: cannot relocate to %q", to)
	}

	src := filepath.Join(m.Dir(model.CustodyPending), filename)
	dst := filepath.Join(m.Dir(to), filename)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("custody: nothing to relocate", zap.String("file", filename))
			return nil
		}
		return fmt.Errorf("relocate %s to %s: %w", filename, to, err)
	}

	m.logger.Info("custody: relocated",
		zap.String("file", filename),
		zap.String("to", string(to)),
	)
	return nil
}

// Locate reports which area currently holds filename.
func (m *Manager) Locate(filename string) (model.CustodyState, bool) {
	if checkName(filename) != nil {
		return "", false
	}
	for _, area := range []model.CustodyState{model.CustodyPending, model.CustodyVerified, model.CustodyRejected} {
		if _, err := os.Stat(filepath.Join(m.Dir(area), filename)); err == nil {
			return area, true
		}
	}
	return "", false
}

// PublicURL returns the public location of a verified artifact, or "" when
// no bytes were stored.
func (m *Manager) PublicURL(filename string) string {
	if filename == "" {
		return ""
	}
	return m.basePath + path.Join(VerifiedRoute, filename)
}
