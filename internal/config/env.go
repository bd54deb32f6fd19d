package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Credentials 汇总外部服务凭证；字段为空时对应协作方进入演示模式。
type Credentials struct {
	OpenAIAPIKey          string   `envconfig:"OPENAI_API_KEY"`
	OpenWeatherAPIKey     string   `envconfig:"OPENWEATHER_API_KEY"`
	AmadeusClientID       string   `envconfig:"AMADEUS_CLIENT_ID"`
	AmadeusClientSecret   string   `envconfig:"AMADEUS_CLIENT_SECRET"`
	AmadeusBaseURL        string   `envconfig:"AMADEUS_BASE_URL" default:"https://test.api.amadeus.com"`
	PinataJWT             string   `envconfig:"PINATA_JWT"`
	ReferralIPFSHashes    []string `envconfig:"REFERRAL_IPFS_HASHES"`
	SavingsWalletAddress  string   `envconfig:"SAVINGS_WALLET_ADDRESS"`
	ReferralSplitAgent    Share    `envconfig:"REFERRAL_SPLIT_AGENT"`
	ReferralSplitReferrer Share    `envconfig:"REFERRAL_SPLIT_REFERRER"`
	AgentWalletAddress    string   `envconfig:"AGENT_WALLET_ADDRESS"`
	WalletPrivateKey      string   `envconfig:"WALLET_PRIVATE_KEY"`
}

// Share 是可选的分账比例，空值视为未设置。
type Share float64

// Decode 实现 envconfig.Decoder，.env 中留空的比例回落到默认值。
func (s *Share) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("无效的分账比例 %q: %w", value, err)
	}
	*s = Share(v)
	return nil
}

// AmadeusConfigured 判断 Amadeus 凭证是否齐全。
func (c Credentials) AmadeusConfigured() bool {
	return c.AmadeusClientID != "" && c.AmadeusClientSecret != ""
}

// LoadCredentials 从进程环境变量解析凭证。
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("解析环境变量失败: %w", err)
	}
	hashes := creds.ReferralIPFSHashes[:0]
	for _, h := range creds.ReferralIPFSHashes {
		if h = strings.TrimSpace(h); h != "" {
			hashes = append(hashes, h)
		}
	}
	creds.ReferralIPFSHashes = hashes
	return creds, nil
}

// ExportEnvFile 读取 .env 文件并导出到进程环境，已存在的环境变量优先。
// 文件不存在时直接返回。
func ExportEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取 env 文件失败: %w", err)
	}
	for key, value := range v.AllSettings() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return err
		}
	}
	return nil
}
