/*
File Name:  FileStore.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Persists incoming FILE_TRANSFER payloads under a fixed directory, named
files/incoming/<random>-<sanitizedName> so two peers sending
the same file name never collide and a malicious name can't escape the
directory.
*/

package core

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/vaultmesh/core/router"
	"github.com/vaultmesh/core/sanitize"
)

// fileStore implements router.FileStore by writing incoming file
// transfers under a single directory.
type fileStore struct {
	dir string
}

var _ router.FileStore = (*fileStore)(nil)

func newFileStore(dir string) *fileStore {
	_ = os.MkdirAll(dir, 0700)
	return &fileStore{dir: dir}
}

// SaveIncoming writes content to a randomly prefixed, sanitized path
// under the store's directory and returns that path.
func (s *fileStore) SaveIncoming(fileName string, content []byte) (path string, err error) {
	var prefix [8]byte
	if _, err = rand.Read(prefix[:]); err != nil {
		return "", err
	}

	name := sanitize.PathFile(fileName)
	if name == "" {
		name = "file"
	}

	path = filepath.Join(s.dir, hex.EncodeToString(prefix[:])+"-"+name)
	if err = os.WriteFile(path, content, 0600); err != nil {
		return "", err
	}
	return path, nil
}
