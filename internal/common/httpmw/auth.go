package httpmw

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kandev/orchestrator/internal/common/apikey"
	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/store"
)

// callerContextKey is the gin context key an authenticated Caller is stored
// under, set by InternalAuth or UserAuth and read back by CallerFrom.
const callerContextKey = "orchestrator.caller"

// sourceAgentHeader carries the calling agent's name on inter-agent gateway
// requests; its bearer token is that same agent's own api key.
const sourceAgentHeader = "X-Source-Agent"

// CallerFrom reads the identity.Caller a prior auth middleware attached to
// the request. It panics if no auth middleware ran, since every route this
// package serves must be authenticated before its handler runs.
func CallerFrom(c *gin.Context) identity.Caller {
	v, ok := c.Get(callerContextKey)
	if !ok {
		panic("httpmw: CallerFrom called on a request with no caller in context")
	}
	return v.(identity.Caller)
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// InternalAuth authenticates the inter-agent gateway's /internal/chat and
// /internal/task endpoints. The caller names itself via X-Source-Agent and
// proves it with that same name's own agent-scoped (or the system agent's)
// api key as a bearer token, mirroring the convention internal/lifecycle
// issues agent credentials under: APIKey.ID == agent name.
func InternalAuth(st *store.Store, systemAgentName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentName := c.GetHeader(sourceAgentHeader)
		if agentName == "" {
			abortUnauthorized(c, "missing X-Source-Agent header")
			return
		}
		secret, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		key, err := st.GetAPIKey(c.Request.Context(), agentName)
		if err != nil {
			abortUnauthorized(c, "unknown source agent")
			return
		}
		if key.RevokedAt != nil {
			abortUnauthorized(c, "credential revoked")
			return
		}
		if !apikey.Verify(secret, key.Salt, key.HashedKey) {
			abortUnauthorized(c, "invalid credential")
			return
		}
		_ = st.TouchAPIKeyLastUsed(c.Request.Context(), agentName)

		caller := identity.Agent(agentName)
		if agentName == systemAgentName {
			caller = identity.System()
		}
		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// UserAuth authenticates the human-facing HTTP API and the /ws/events
// upgrade. It accepts two bearer forms: a long-lived user api key in
// "id.secret" form (id is the APIKey.ID, secret hashes against its salt),
// or a session JWT signed with jwtSecret carrying a "sub" (user id) and an
// "admin" claim. Session-token issuance (email codes, admin password) is
// out of scope here; this middleware only ever verifies a token someone
// else minted.
func UserAuth(st *store.Store, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		if id, secret, isAPIKey := splitAPIKeyToken(token); isAPIKey {
			caller, err := authenticateUserAPIKey(c.Request.Context(), st, id, secret)
			if err != nil {
				abortUnauthorized(c, "invalid api key")
				return
			}
			c.Set(callerContextKey, caller)
			c.Next()
			return
		}

		caller, err := authenticateJWT(c.Request.Context(), st, token, jwtSecret)
		if err != nil {
			abortUnauthorized(c, "invalid session token")
			return
		}
		c.Set(callerContextKey, caller)
		c.Next()
	}
}

// splitAPIKeyToken recognizes the "id.secret" api-key form; a JWT never
// contains exactly one '.'-delimited pair before its own dot-separated
// header.payload.signature structure, so requiring exactly two parts with a
// non-empty id is enough to tell the two token kinds apart.
func splitAPIKeyToken(token string) (id, secret string, ok bool) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || strings.Count(token, ".") != 1 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func authenticateUserAPIKey(ctx context.Context, st *store.Store, id, secret string) (identity.Caller, error) {
	key, err := st.GetAPIKey(ctx, id)
	if err != nil {
		return identity.Caller{}, err
	}
	if key.Scope != store.APIKeyScopeUser || key.UserID == nil {
		return identity.Caller{}, apperrors.Unauthorized("not a user-scoped key")
	}
	if key.RevokedAt != nil {
		return identity.Caller{}, apperrors.Unauthorized("credential revoked")
	}
	if !apikey.Verify(secret, key.Salt, key.HashedKey) {
		return identity.Caller{}, apperrors.Unauthorized("invalid credential")
	}
	_ = st.TouchAPIKeyLastUsed(ctx, id)

	user, err := st.GetUser(ctx, *key.UserID)
	if err != nil {
		return identity.Caller{}, err
	}
	return identity.User(user.ID, user.IsAdmin), nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

func authenticateJWT(ctx context.Context, st *store.Store, token, secret string) (identity.Caller, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Unauthorized("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return identity.Caller{}, apperrors.Unauthorized("malformed or expired session token")
	}
	if claims.Subject == "" {
		return identity.Caller{}, apperrors.Unauthorized("session token missing subject")
	}

	// The admin claim is trusted as of token issuance, but a user demoted
	// since then must lose the bit immediately: the store row is the
	// authority, the claim only short-circuits the lookup's absence.
	if user, err := st.GetUser(ctx, claims.Subject); err == nil {
		return identity.User(user.ID, user.IsAdmin), nil
	}
	return identity.User(claims.Subject, claims.Admin), nil
}

func abortUnauthorized(c *gin.Context, message string) {
	appErr := apperrors.Unauthorized(message)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
}
