package redis

import (
	"fmt"

	"github.com/mcoot/outlier/internal/model"
)

// Key prefix for all session data
const keyPrefix = "outlier"

// sessionKey returns the Redis key for the HASH holding a session record
func sessionKey(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

// joinCodeIndexKey returns the Redis key for the join_code -> session_id index
func joinCodeIndexKey(code model.JoinCode) string {
	return fmt.Sprintf("%s:idx:join_code:%s", keyPrefix, code)
}

// changesChannel returns the pub/sub channel carrying a session's updates
func changesChannel(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s:changes", keyPrefix, id)
}
