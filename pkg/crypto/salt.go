package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// SaltFileExtension is appended to the store path to name its salt file
	SaltFileExtension = ".salt"

	// SaltFileMode is the file permission for salt files (owner read/write only)
	SaltFileMode = 0600
)

var saltMagic = []byte("TCS1")

// verifyPlaintext is sealed into the salt file so a wrong passphrase is
// detected before any content is read.
var verifyPlaintext = []byte("termchat-store")

var (
	ErrWrongPassphrase = errors.New("wrong passphrase")
	ErrSaltFileCorrupt = errors.New("salt file is corrupt")
)

// SaltPath returns the salt file path for a store.
func SaltPath(storePath string) string {
	return storePath + SaltFileExtension
}

// IsEncrypted reports whether the store at storePath was set up with a passphrase.
func IsEncrypted(storePath string) bool {
	info, err := os.Stat(SaltPath(storePath))
	return err == nil && info.Mode().IsRegular()
}

// OpenCipher returns the cipher for the store at storePath. On first use a
// new salt and verification token are written; later calls verify the
// passphrase against the token. created reports whether the salt file was new.
func OpenCipher(storePath, passphrase string) (c *Cipher, created bool, err error) {
	path := SaltPath(storePath)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		c, err = verifySaltFile(data, passphrase)
		return c, false, err
	case !os.IsNotExist(err):
		return nil, false, fmt.Errorf("failed to read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, false, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, false, err
	}
	c, err = NewCipher(key)
	if err != nil {
		return nil, false, err
	}
	token, err := c.Encrypt(verifyPlaintext)
	if err != nil {
		return nil, false, err
	}

	var buf bytes.Buffer
	buf.Write(saltMagic)
	buf.Write(salt)
	buf.Write(token)

	// Write atomically by writing to temp file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, buf.Bytes(), SaltFileMode); err != nil {
		return nil, false, fmt.Errorf("failed to write salt file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return nil, false, fmt.Errorf("failed to save salt file: %w", err)
	}
	return c, true, nil
}

func verifySaltFile(data []byte, passphrase string) (*Cipher, error) {
	if len(data) < len(saltMagic)+SaltSize+NonceSize+TagSize || !bytes.HasPrefix(data, saltMagic) {
		return nil, ErrSaltFileCorrupt
	}
	rest := data[len(saltMagic):]
	salt, token := rest[:SaltSize], rest[SaltSize:]

	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain, err := c.Decrypt(token)
	if err != nil || !bytes.Equal(plain, verifyPlaintext) {
		return nil, ErrWrongPassphrase
	}
	return c, nil
}
