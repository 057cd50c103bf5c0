package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/rental-backend/internal/config"
	"github.com/shinyyama/rental-backend/internal/handler"
	"github.com/shinyyama/rental-backend/internal/reqctx"
	"github.com/shinyyama/rental-backend/internal/service"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// HeaderUserID carries the caller's user id in header auth mode.
const HeaderUserID = "X-User-ID"

// TokenVerifier turns a bearer token into the identity it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (service.Identity, error)
}

type FirebaseVerifier struct {
	authClient *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	if projectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID is not set")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &FirebaseVerifier{authClient: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (service.Identity, error) {
	tok, err := v.authClient.VerifyIDToken(ctx, token)
	if err != nil {
		return service.Identity{}, err
	}
	claim := func(k string) string {
		s, _ := tok.Claims[k].(string)
		return s
	}
	return service.Identity{
		UID:       tok.UID,
		Name:      claim("name"),
		Email:     claim("email"),
		AvatarURL: claim("picture"),
	}, nil
}

type AuthMiddleware struct {
	mode     string
	verifier TokenVerifier
	users    service.UserService
	log      *zap.Logger
}

// NewAuthMiddleware builds the auth layer for mode. The verifier is only
// consulted in firebase mode and may be nil in header mode.
func NewAuthMiddleware(mode string, verifier TokenVerifier, users service.UserService, log *zap.Logger) (*AuthMiddleware, error) {
	switch mode {
	case config.AuthModeHeader:
	case config.AuthModeFirebase:
		if verifier == nil {
			return nil, fmt.Errorf("auth mode %q needs a token verifier", mode)
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
	return &AuthMiddleware{mode: mode, verifier: verifier, users: users, log: log}, nil
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var (
			userID uint64
			err    error
		)
		if m.mode == config.AuthModeHeader {
			userID, err = m.fromHeader(c)
		} else {
			userID, err = m.fromToken(c)
		}
		if err != nil {
			m.log.Debug("auth rejected", zap.String("rid", reqctx.RID(ctx)), zap.Error(err))
			return c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("unauthorized", err.Error()))
		}
		c.Set(handler.UserIDKey, userID)
		c.SetRequest(c.Request().WithContext(reqctx.WithUserID(ctx, userID)))
		return next(c)
	}
}

func (m *AuthMiddleware) fromHeader(c echo.Context) (uint64, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if raw == "" {
		return 0, errors.New("missing " + HeaderUserID)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + HeaderUserID)
	}
	if _, err := m.users.Get(c.Request().Context(), id); err != nil {
		return 0, errors.New("unknown user")
	}
	return id, nil
}

func (m *AuthMiddleware) fromToken(c echo.Context) (uint64, error) {
	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return 0, errors.New("missing bearer token")
	}
	ident, err := m.verifier.Verify(c.Request().Context(), strings.TrimPrefix(authz, "Bearer "))
	if err != nil {
		return 0, errors.New("invalid_token")
	}
	u, err := m.users.Resolve(c.Request().Context(), ident)
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	return u.ID, nil
}
