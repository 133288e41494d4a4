package security

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang-jwt/jwt/v5"
)

// 注册声明之外不并入 Payload 的键
var registeredKeys = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
}

// Claims 通用 JWT Claims
type Claims struct {
	jwt.RegisteredClaims

	// Payload 自定义载荷
	Payload map[string]any `json:"payload,omitempty"`
}

// Inspect 不校验签名解析 Token，用于读取客户端持有的访问令牌中的过期时间与角色
// 顶层私有声明与 payload 对象内的键合并到 Payload
func Inspect(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	raw := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, raw); err != nil {
		return nil, wrapError(err)
	}

	c := &Claims{Payload: make(map[string]any)}
	if exp, err := raw.GetExpirationTime(); err == nil {
		c.ExpiresAt = exp
	}
	if iat, err := raw.GetIssuedAt(); err == nil {
		c.IssuedAt = iat
	}
	if nbf, err := raw.GetNotBefore(); err == nil {
		c.NotBefore = nbf
	}
	c.Subject, _ = raw.GetSubject()
	c.Issuer, _ = raw.GetIssuer()
	c.Audience, _ = raw.GetAudience()

	for k, v := range raw {
		if _, ok := registeredKeys[k]; ok {
			continue
		}
		if k == "payload" {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					c.Payload[nk] = nv
				}
				continue
			}
		}
		c.Payload[k] = v
	}
	return c, nil
}

// Get 获取指定 key 的值（支持点号分隔的嵌套 key）
func (c *Claims) Get(key string) any {
	if c.Payload == nil {
		return nil
	}

	var current any = c.Payload
	for _, k := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[k]
	}
	return current
}

// UnmarshalKey 将指定 key 的值解析到 v
func (c *Claims) UnmarshalKey(key string, v any) error {
	val := c.Get(key)
	if val == nil {
		return nil
	}
	return mapstructure.Decode(val, v)
}

// Strings 读取字符串列表声明，单个字符串视为只含一个元素的列表
func (c *Claims) Strings(key string) []string {
	val := c.Get(key)
	if val == nil {
		return nil
	}

	var out []string
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return nil
	}
	if err := dec.Decode(val); err != nil {
		return nil
	}
	return out
}

// HasString 字符串列表声明中是否包含 want
func (c *Claims) HasString(key, want string) bool {
	for _, s := range c.Strings(key) {
		if s == want {
			return true
		}
	}
	return false
}
