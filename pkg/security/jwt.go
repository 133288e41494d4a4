package security

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
)

// JWTConfig JWT 签发/校验配置
type JWTConfig struct {
	// 签名密钥（HS 系列）
	SecretKey string `mapstructure:"secret_key" json:"secret_key" yaml:"secret_key"`

	// 公钥文件路径（RS/ES 系列校验）
	PublicKeyFile string `mapstructure:"public_key_file" json:"public_key_file" yaml:"public_key_file"`

	// 私钥文件路径（RS/ES 系列签名）
	PrivateKeyFile string `mapstructure:"private_key_file" json:"private_key_file" yaml:"private_key_file"`

	// 签名算法（默认 HS256）
	Algorithm string `mapstructure:"algorithm" json:"algorithm" yaml:"algorithm"`

	// Token 有效期（默认 1 小时）
	ExpiresIn time.Duration `mapstructure:"expires_in" json:"expires_in" yaml:"expires_in"`

	// 签发者
	Issuer string `mapstructure:"issuer" json:"issuer" yaml:"issuer"`

	// Token 前缀（默认 "Bearer "）
	TokenPrefix string `mapstructure:"token_prefix" json:"token_prefix" yaml:"token_prefix"`
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() *JWTConfig {
	return &JWTConfig{
		Algorithm:   "HS256",
		ExpiresIn:   time.Hour,
		TokenPrefix: "Bearer ",
	}
}

// JWTManager JWT 签发与校验
type JWTManager struct {
	config     *JWTConfig
	method     jwt.SigningMethod
	publicKey  any
	privateKey any
}

// NewJWTManager 创建 JWT 管理器
func NewJWTManager(cfg *JWTConfig) (*JWTManager, error) {
	newCfg, err := config.MergeConfig(DefaultJWTConfig(), cfg)
	if err != nil {
		return nil, err
	}

	method := jwt.GetSigningMethod(strings.ToUpper(newCfg.Algorithm))
	if method == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmMismatch, newCfg.Algorithm)
	}

	m := &JWTManager{
		config: newCfg,
		method: method,
	}
	if err := m.loadKeys(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *JWTManager) loadKeys() error {
	alg := m.method.Alg()

	if strings.HasPrefix(alg, "HS") {
		if m.config.SecretKey == "" {
			return ErrSecretKeyEmpty
		}
		m.publicKey = []byte(m.config.SecretKey)
		m.privateKey = []byte(m.config.SecretKey)
		return nil
	}

	if m.config.PublicKeyFile != "" {
		key, err := loadKey(m.config.PublicKeyFile, alg, true)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPublicKeyLoad, err)
		}
		m.publicKey = key
	}
	if m.config.PrivateKeyFile != "" {
		key, err := loadKey(m.config.PrivateKeyFile, alg, false)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPrivateKeyLoad, err)
		}
		m.privateKey = key
	}
	return nil
}

// GenerateToken 签发 Token；ExpiresAt 未设置时使用配置的有效期
func (m *JWTManager) GenerateToken(claims *Claims) (string, error) {
	now := time.Now()

	claims.IssuedAt = jwt.NewNumericDate(now)
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.config.ExpiresIn))
	}
	if m.config.Issuer != "" && claims.Issuer == "" {
		claims.Issuer = m.config.Issuer
	}

	return jwt.NewWithClaims(m.method, claims).SignedString(m.privateKey)
}

// ValidateToken 校验签名与有效期
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = m.stripPrefix(tokenString)
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != m.method.Alg() {
			return nil, ErrAlgorithmMismatch
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, wrapError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *JWTManager) stripPrefix(tokenString string) string {
	if m.config.TokenPrefix != "" {
		return strings.TrimPrefix(tokenString, m.config.TokenPrefix)
	}
	return tokenString
}

func wrapError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotValidYet
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func loadKey(file, alg string, public bool) (any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(alg, "RS") && public:
		return jwt.ParseRSAPublicKeyFromPEM(data)
	case strings.HasPrefix(alg, "RS"):
		return jwt.ParseRSAPrivateKeyFromPEM(data)
	case strings.HasPrefix(alg, "ES") && public:
		return jwt.ParseECPublicKeyFromPEM(data)
	case strings.HasPrefix(alg, "ES"):
		return jwt.ParseECPrivateKeyFromPEM(data)
	default:
		return nil, errors.New("unsupported algorithm")
	}
}
