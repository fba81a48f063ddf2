package models

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// TagID is either Pending (a client-minted token) or Persisted (a server id).
// The zero value is an empty pending id.
type TagID struct {
	value     string
	persisted bool
}

// PendingTagID returns a client-side id that is not known to the server.
func PendingTagID(token string) TagID {
	return TagID{value: token}
}

// PersistedTagID returns a server-assigned id.
func PersistedTagID(id string) TagID {
	return TagID{value: id, persisted: true}
}

// Persisted returns the server id and true, or "" and false for pending ids.
func (id TagID) Persisted() (string, bool) {
	if !id.persisted {
		return "", false
	}
	return id.value, true
}

// IsPending reports whether the id has not been assigned by the server yet.
func (id TagID) IsPending() bool { return !id.persisted }

// Token returns the local token of a pending id, or "" for persisted ids.
func (id TagID) Token() string {
	if id.persisted {
		return ""
	}
	return id.value
}

func (id TagID) String() string {
	if id.persisted {
		return id.value
	}
	return "pending:" + id.value
}

// MarshalJSON encodes persisted ids as strings and pending ids as null.
func (id TagID) MarshalJSON() ([]byte, error) {
	if !id.persisted {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON decodes a string as a persisted id; null or "" becomes a new
// pending id.
func (id *TagID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = PendingTagID(uuid.NewString())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = PendingTagID(uuid.NewString())
		return nil
	}
	*id = PersistedTagID(s)
	return nil
}
