// Package ipfs stores JSON documents on IPFS through Pinata and fetches them
// back through a gateway. MemoryStore is the credential-free stand-in: it
// derives deterministic content identifiers from the payload bytes.
package ipfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	xerrors "TravelAgent-Chain/internal/errors"
)

// Store 是内容寻址存储的统一接口。
type Store interface {
	// Store 固定一个 JSON 文档并返回内容标识。
	Store(ctx context.Context, payload map[string]any) (string, error)
	// Fetch 根据内容标识取回文档。
	Fetch(ctx context.Context, cid string) (map[string]any, error)
	// Mode 返回 live 或 demo。
	Mode() string
}

// ErrNotFound 表示内容标识不存在。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "content not found")

// MemoryStore 在内存中保存文档。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Store 序列化文档并以其摘要作为内容标识。
func (s *MemoryStore) Store(ctx context.Context, payload map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "文档无法序列化")
	}
	sum := sha256.Sum256(raw)
	cid := "bafydemo" + hex.EncodeToString(sum[:])[:44]

	s.mu.Lock()
	s.docs[cid] = raw
	s.mu.Unlock()
	return cid, nil
}

// Fetch 返回文档副本。
func (s *MemoryStore) Fetch(ctx context.Context, cid string) (map[string]any, error) {
	s.mu.RLock()
	raw, ok := s.docs[cid]
	s.mu.RUnlock()
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, ErrNotFound, fmt.Sprintf("cid %s", cid))
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "文档损坏")
	}
	return doc, nil
}

// Mode 返回 demo。
func (s *MemoryStore) Mode() string { return "demo" }
