package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/till-engine/till"
)

// OperatorHeader carries the operator id when no JWT secret is configured.
const OperatorHeader = "X-Operator-ID"

type contextKey string

const operatorContextKey contextKey = "operator"

// WithOperator stores the authenticated operator in ctx.
func WithOperator(ctx context.Context, id till.OperatorID) context.Context {
	return context.WithValue(ctx, operatorContextKey, id)
}

// OperatorFrom returns the authenticated operator, or "" when none.
func OperatorFrom(ctx context.Context) till.OperatorID {
	id, _ := ctx.Value(operatorContextKey).(till.OperatorID)
	return id
}

// AuthMiddleware identifies the operator of every request.
//
// With a secret, an HMAC-signed bearer token is required and its "sub" claim
// is the operator id. Without one, the X-Operator-ID header is trusted; that
// mode is meant for development and for terminals behind a trusted gateway.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var operator string
			if secret == "" {
				operator = strings.TrimSpace(r.Header.Get(OperatorHeader))
				if operator == "" {
					writeError(w, http.StatusUnauthorized, "missing "+OperatorHeader+" header", nil)
					return
				}
			} else {
				sub, msg := subjectFromBearer(r.Header.Get("Authorization"), secret)
				if sub == "" {
					writeError(w, http.StatusUnauthorized, msg, nil)
					return
				}
				operator = sub
			}
			ctx := WithOperator(r.Context(), till.OperatorID(operator))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subjectFromBearer(header, secret string) (sub, problem string) {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", "missing bearer token"
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "invalid token"
	}
	sub, err = token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", "invalid subject"
	}
	return strings.TrimSpace(sub), ""
}
