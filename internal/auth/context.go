// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
)

// SetUserID sets the acting backend user id in the context.
// Watermark writes are attributed to this id.
func SetUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the acting backend user id from the context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// UserIDOrZero returns the acting user id, or 0 when no user is attached
// (scheduled runs have no backend user).
func UserIDOrZero(ctx context.Context) int64 {
	userID, _ := GetUserID(ctx)
	return userID
}
