package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名算法与 TTL
type Options struct {
	Secret []byte        // HMAC 密钥（生产用 ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
	Leeway time.Duration // exp/nbf 容忍的时钟偏差
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID  string   `json:"userId"`
	Subject string   `json:"sub"`
	Scope   []string `json:"scope"`
	Exp     int64    `json:"exp"`
}

// Generate signs a token carrying both userId and sub for the given user.
func Generate(opts Options, userID string, scopes []string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if userID == "" {
		return "", time.Time{}, errs.New("userID is empty")
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"userId": userID,
		"sub":    userID,
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
		"exp":    exp.Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "sign token")
	}
	return signed, exp, nil
}

// JWTVerifier checks HMAC-signed tokens. It is safe for concurrent use.
type JWTVerifier struct {
	opts   Options
	parser *jwtlib.Parser
}

func NewJWTVerifier(opts Options) (*JWTVerifier, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if len(opts.Secret) == 0 {
		return nil, errs.New("jwt secret is empty")
	}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{method.Alg()})}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwtlib.WithLeeway(opts.Leeway))
	}
	return &JWTVerifier{opts: opts, parser: jwtlib.NewParser(parserOpts...)}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("verify aborted", "err", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("missing token")
	}

	claims := jwtlib.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	})
	if err != nil {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("parse token", "err", err)
	}
	if !parsed.Valid {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("invalid token")
	}

	tc, err := decode.DecodeMap[tokenClaims](claims)
	if err != nil {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("decode claims", "err", err)
	}
	uid := tc.UserID
	if uid == "" {
		uid = tc.Subject
	}
	if uid == "" {
		return Identity{}, errs.ErrUnauthorized.WrapMsg("token has no userId")
	}

	id := Identity{UserID: uid, Scopes: tc.Scope}
	if tc.Exp > 0 {
		id.ExpiresAt = time.Unix(tc.Exp, 0)
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
