package hub

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// Authenticator 校验握手令牌，返回认证用户
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (protocol.User, error)
}

// AuthenticatorFunc 函数适配器
type AuthenticatorFunc func(ctx context.Context, token string) (protocol.User, error)

// Authenticate 实现 Authenticator
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (protocol.User, error) {
	return f(ctx, token)
}

// RoomPolicy 加入项目房间前的权限检查，返回错误即拒绝
type RoomPolicy func(ctx context.Context, user protocol.User, projectID string) error

// Claims 令牌载荷
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator HMAC 签名的 JWT 鉴权
type JWTAuthenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTAuthenticator 创建 JWT 鉴权，issuer 为空时不校验签发方
func NewJWTAuthenticator(secret []byte, issuer string, leeway time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer, leeway: leeway}
}

// Authenticate 实现 Authenticator
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (protocol.User, error) {
	if token == "" {
		return protocol.User{}, ErrUnauthorized.WithMessage("hub: token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return protocol.User{}, ErrUnauthorized.WithMessage("hub: invalid token").WithError(err)
	}
	if claims.Subject == "" {
		return protocol.User{}, ErrUnauthorized.WithMessage("hub: token has no subject")
	}

	return protocol.User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// Issue 为用户签发令牌
func (a *JWTAuthenticator) Issue(user protocol.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest 从 Authorization 头或 token 参数读取令牌
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(protocol.QueryToken)
}
