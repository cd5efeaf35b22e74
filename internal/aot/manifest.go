// manifest.go - 产物清单

package aot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/segmentio/encoding/json"
	"golang.org/x/crypto/blake2b"
)

// Artifact 一次 AOT 编译的产物描述，同时写入 <产物>.json
type Artifact struct {
	Path      string          `json:"path"`
	Format    Format          `json:"format"`
	Target    string          `json:"target,omitempty"`
	OptLevel  string          `json:"opt_level"`
	Entry     string          `json:"entry,omitempty"`
	Size      int64           `json:"size"`
	Elapsed   time.Duration   `json:"elapsed_ns"`
	Digest    string          `json:"blake2b_256"`
	TreeShake *TreeShakeStats `json:"tree_shake,omitempty"`
}

// HumanSize 可读的文件大小
func (a *Artifact) HumanSize() string {
	return units.HumanSize(float64(a.Size))
}

// ManifestPath 清单文件路径
func (a *Artifact) ManifestPath() string {
	return a.Path + ".json"
}

// FileDigest 计算文件的 BLAKE2b-256 摘要（十六进制）
func FileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// WriteManifest 把清单写到 ManifestPath
func (a *Artifact) WriteManifest() error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(a.ManifestPath(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest 读取清单
func ReadManifest(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &a, nil
}
