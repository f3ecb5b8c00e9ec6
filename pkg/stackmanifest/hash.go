package stackmanifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// TemplatePath is where a cloud assembly keeps the template of stack.
func TemplatePath(assemblyDir, stack string) string {
	return filepath.Join(assemblyDir, stack+".template.json")
}

// TemplateSHA256 hashes the synthesized template of stack as lowercase hex.
func TemplateSHA256(assemblyDir, stack string) (string, error) {
	path := TemplatePath(assemblyDir, stack)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("hash template: %w", MissingFileError{Path: path})
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
