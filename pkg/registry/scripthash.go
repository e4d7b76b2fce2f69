package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
)

// ScriptHash computes the SHA-1 digest of the change's script contents
// in path order, recorded at deploy time so later edits to deployed
// scripts are detectable. Missing optional scripts hash as empty.
func ScriptHash(paths ...string) (string, error) {
	h := sha1.New()
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("cannot hash script %s: %w", path, err)
		}
		_, _ = h.Write(content)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
