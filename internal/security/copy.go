package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// encryptedHeader prefixes every encrypted file.
var encryptedHeader = []byte("SXNENC1\n")

// CopyOptions configures a CopyFile call.
type CopyOptions struct {
	// Permissions for the destination. Zero keeps the source mode, or 0600
	// for sensitive files.
	Permissions os.FileMode
	// Encrypt writes the content sealed with AES-256-GCM.
	Encrypt bool
	// Backup moves an existing destination aside before writing.
	Backup bool
}

// CopyResult describes a finished copy.
type CopyResult struct {
	Encrypted bool
	// Checksum is the hex SHA-256 of the source content.
	Checksum string
	// BackupPath is where the previous destination was moved, if any.
	BackupPath string
}

// BackupPath returns a fresh backup location next to path.
func BackupPath(path string) string {
	return fmt.Sprintf("%s.sxn-backup-%d", path, time.Now().UnixNano())
}

// IsBackupPath reports whether path was produced by BackupPath.
func IsBackupPath(path string) bool {
	return strings.Contains(filepath.Base(path), ".sxn-backup-")
}

// CopyFile copies source to dest. The destination is written to a temporary
// file and renamed into place, so readers never see a partial file.
func (m *Manager) CopyFile(source, dest string, opts CopyOptions) (*CopyResult, error) {
	src, err := m.ValidatePath(source, false)
	if err != nil {
		return nil, err
	}
	dst, err := m.ValidatePath(dest, true)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", src)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	sum := sha256.Sum256(data)
	result := &CopyResult{Checksum: hex.EncodeToString(sum[:])}

	if opts.Encrypt {
		sealed, err := m.encrypt(data)
		if err != nil {
			return nil, err
		}
		data = sealed
		result.Encrypted = true
	}

	perm := opts.Permissions
	if perm == 0 {
		perm = info.Mode().Perm()
		if m.SensitiveFile(src) {
			perm = 0o600
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", dst, err)
	}

	if _, err := os.Lstat(dst); err == nil {
		if opts.Backup {
			result.BackupPath = BackupPath(dst)
			if err := os.Rename(dst, result.BackupPath); err != nil {
				return nil, fmt.Errorf("back up %s: %w", dst, err)
			}
		} else if err := os.Remove(dst); err != nil {
			return nil, fmt.Errorf("replace %s: %w", dst, err)
		}
	}

	if err := writeAtomic(dst, data, perm); err != nil {
		if result.BackupPath != "" {
			_ = os.Rename(result.BackupPath, dst)
		}
		return nil, err
	}

	m.logger.Debug("copied file",
		"source", src,
		"dest", dst,
		"encrypted", result.Encrypted,
		"backup", result.BackupPath,
	)
	return result, nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sxn-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// encrypt seals plaintext as header || nonce || ciphertext.
func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := m.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(encryptedHeader)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, encryptedHeader...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, encryptedHeader), nil
}

// Decrypt opens content produced by an encrypted CopyFile.
func (m *Manager) Decrypt(sealed []byte) ([]byte, error) {
	aead, err := m.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < len(encryptedHeader)+aead.NonceSize() ||
		string(sealed[:len(encryptedHeader)]) != string(encryptedHeader) {
		return nil, fmt.Errorf("content is not sxn-encrypted")
	}

	body := sealed[len(encryptedHeader):]
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, encryptedHeader)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// aead opens the key enclave just long enough to build the cipher.
func (m *Manager) aead() (cipher.AEAD, error) {
	if m.key == nil {
		return nil, errors.NewSecurityError("encryption requested but no key is configured", errors.ErrEncryptionUnavailable)
	}

	buf, err := m.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
