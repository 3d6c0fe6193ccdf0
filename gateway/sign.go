package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// SignParams 生成带时间戳的查询串与 HMAC-SHA256 签名。
// 参数按键名排序，保证签名串稳定。
func SignParams(params map[string]string, secret string) (query, signature string) {
	if params == nil {
		params = map[string]string{}
	}
	if _, ok := params["timestamp"]; !ok {
		params["timestamp"] = fmt.Sprintf("%d", time.Now().UnixMilli())
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query = values.Encode()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	signature = hex.EncodeToString(mac.Sum(nil))
	return query, signature
}
