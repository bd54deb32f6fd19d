package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"TravelAgent-Chain/sdk/go/travelagent"
)

// newRootCmd 构造 travelctl 命令树。每次调用返回独立的 viper 实例，便于测试。
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "travelctl",
		Short:         "Command line client for the travel agent wallet API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadCLIConfig(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.travelctl.yaml)")
	flags.String("server", "http://localhost:8080", "travelagentd base URL")
	flags.Duration("timeout", travelagent.DefaultHTTPTimeout, "HTTP timeout")
	flags.StringP("output", "o", "text", "output format: text, json or yaml")
	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = v.BindPFlag("output", flags.Lookup("output"))

	root.AddCommand(
		newChatCmd(v),
		newHealthCmd(v),
		newBalanceCmd(v),
		newReferralsCmd(v),
		newSpendCmd(v),
		newCapCmd(v),
		newRunsCmd(v),
		newUploadCmd(v),
	)
	return root
}

func loadCLIConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("TRAVELCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return v.ReadInConfig()
	}
	v.SetConfigName(".travelctl")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func clientFrom(v *viper.Viper) (*travelagent.Client, error) {
	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = travelagent.DefaultHTTPTimeout
	}
	return travelagent.NewClient(v.GetString("server"), &http.Client{Timeout: timeout})
}

// render 按 --output 输出结构化结果；text 模式交给调用方的格式化函数。
func render(v *viper.Viper, w io.Writer, value any, text func(io.Writer) error) error {
	switch strings.ToLower(v.GetString("output")) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(value)
	case "", "text":
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q", v.GetString("output"))
	}
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Local().Format(time.RFC3339)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
