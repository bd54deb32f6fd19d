package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
)

const (
	DefaultPinEndpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	DefaultGateway     = "https://gateway.pinata.cloud/ipfs/"
)

// PinataConfig 描述 Pinata 连接参数。
type PinataConfig struct {
	JWT        string
	Endpoint   string
	Gateway    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// PinataStore 通过 Pinata 的 pinJSONToIPFS 接口固定文档。
type PinataStore struct {
	jwt      string
	endpoint string
	gateway  string
	http     *http.Client
}

// NewPinataStore 创建 Pinata 客户端。
func NewPinataStore(cfg PinataConfig) (*PinataStore, error) {
	jwt := strings.TrimSpace(cfg.JWT)
	if jwt == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 PINATA_JWT")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultPinEndpoint
	}
	gateway := strings.TrimSpace(cfg.Gateway)
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &PinataStore{jwt: jwt, endpoint: endpoint, gateway: gateway, http: client}, nil
}

type pinRequest struct {
	Content  map[string]any `json:"pinataContent"`
	Metadata pinMetadata    `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Store 上传文档并返回 IpfsHash。
func (p *PinataStore) Store(ctx context.Context, payload map[string]any) (string, error) {
	name := "travelagent-document"
	if kind, ok := payload["type"].(string); ok && kind != "" {
		name = "travelagent-" + kind
	}
	body, err := json.Marshal(pinRequest{Content: payload, Metadata: pinMetadata{Name: name}})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "文档无法序列化")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "构建 Pinata 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "请求 Pinata 失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", xerrors.New(xerrors.CodeContentStorageFailure,
			fmt.Sprintf("Pinata 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	var decoded pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "解析 Pinata 响应失败")
	}
	if decoded.IpfsHash == "" {
		return "", xerrors.New(xerrors.CodeContentStorageFailure, "Pinata 响应缺少 IpfsHash")
	}
	return decoded.IpfsHash, nil
}

// Fetch 通过网关读取文档。
func (p *PinataStore) Fetch(ctx context.Context, cid string) (map[string]any, error) {
	cid = strings.TrimPrefix(strings.TrimSpace(cid), "ipfs://")
	if cid == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "cid 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.gateway+cid, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "构建网关请求失败")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "请求 IPFS 网关失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, ErrNotFound, fmt.Sprintf("cid %s", cid))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, xerrors.New(xerrors.CodeContentStorageFailure, fmt.Sprintf("IPFS 网关返回错误状态 %d", resp.StatusCode))
	}
	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeContentStorageFailure, err, "解析 IPFS 文档失败")
	}
	return doc, nil
}

// Mode 返回 live。
func (p *PinataStore) Mode() string { return "live" }
