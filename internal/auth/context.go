package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxWorkspaceID
	ctxRole
)

// Identity is the authenticated caller as seen by handlers. WorkspaceID is
// the tenant boundary; every store query downstream filters on it.
type Identity struct {
	UserID      string
	WorkspaceID string
	Role        string
}

func WithIdentity(ctx context.Context, userID, workspaceID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxWorkspaceID, workspaceID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

// IdentityFromContext returns the full identity triple, erroring if any part
// is missing. Handlers that only need the workspace use WorkspaceID instead.
func IdentityFromContext(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, err
	}
	wid, err := WorkspaceID(ctx)
	if err != nil {
		return Identity{}, err
	}
	role, err := Role(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: uid, WorkspaceID: wid, Role: role}, nil
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func WorkspaceID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxWorkspaceID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("workspace_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
