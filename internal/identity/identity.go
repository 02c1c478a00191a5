package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// CloudID is a user@host-shaped global identifier addressing an account on a
// specific federated server.
type CloudID struct {
	User string
	Host string
}

// Parse splits a raw cloud id on its last '@'. Usernames may contain '@'
// themselves; hosts never do.
func Parse(raw string) (CloudID, error) {
	at := strings.LastIndex(raw, "@")
	if at <= 0 || at == len(raw)-1 {
		return CloudID{}, fmt.Errorf("invalid cloud id %q", raw)
	}
	return CloudID{User: raw[:at], Host: raw[at+1:]}, nil
}

func (c CloudID) String() string {
	return c.User + "@" + c.Host
}

// EncodeSegment returns the reversible, URL-safe path segment for a cloud id.
func EncodeSegment(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeSegment is the inverse of EncodeSegment.
func DecodeSegment(seg string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return "", fmt.Errorf("invalid identity segment: %w", err)
	}
	return string(b), nil
}

// RemotePrincipalPrefix is the principal namespace for users on other servers.
const RemotePrincipalPrefix = "principals/remote-users/"

// RemotePrincipal builds the local principal path for a remote cloud id.
func RemotePrincipal(cloudID string) string {
	return RemotePrincipalPrefix + EncodeSegment(cloudID)
}

// ParseRemotePrincipal extracts the cloud id from a remote principal path.
// Any other path shape is an error.
func ParseRemotePrincipal(principal string) (string, error) {
	seg, ok := strings.CutPrefix(principal, RemotePrincipalPrefix)
	if !ok || seg == "" || strings.Contains(seg, "/") {
		return "", fmt.Errorf("not a remote user principal: %q", principal)
	}
	return DecodeSegment(seg)
}

// NameDeriver maps a sharer's cloud id to the deterministic local collection
// name of the mirrored calendar. Injectable so tests can pin exact values.
type NameDeriver func(sharerCloudID string) string

// DefaultName derives the local collection name as a truncated content hash
// of the sharer's cloud id. Re-shares by the same sharer land on the same
// name, which is what makes replacement (rather than duplication) work.
func DefaultName(sharerCloudID string) string {
	sum := sha256.Sum256([]byte(sharerCloudID))
	return hex.EncodeToString(sum[:])[:32]
}
