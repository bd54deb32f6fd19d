package travel

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// toJSON 以不转义 HTML 的方式编码工具返回的 JSON 文本。
func toJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
