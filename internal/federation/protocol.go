package federation

import (
	"strconv"
	"strings"

	"github.com/fedcal/fedcal/internal/identity"
)

// ProtocolVersionV1 is the only calendar federation protocol version spoken.
const ProtocolVersionV1 = "v1"

// Access-level codes carried in the share protocol block. Only read-only is
// honored end to end; read-write is parsed but rejected at negotiation time.
const (
	AccessReadOnly  = 3
	AccessReadWrite = 4
)

// Permission bits of a federated calendar record. Read is always set.
const (
	PermRead   = 1
	PermCreate = 2
	PermUpdate = 4
	PermDelete = 8
)

const (
	// ShareTypeUser is the only supported share target kind.
	ShareTypeUser = "user"

	// ResourceTypeCalendar is the resource type of calendar shares and
	// notifications.
	ResourceTypeCalendar = "calendar"

	// NotificationSyncCalendar asks the sharee to resync one calendar.
	NotificationSyncCalendar = "SYNC_CALENDAR"
)

// CalendarProtocol is the calendar-specific block of an OCM share payload.
type CalendarProtocol struct {
	Version     string `json:"version"`
	URL         string `json:"url"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color,omitempty"`
	Access      int    `json:"access"`
	Components  string `json:"components,omitempty"`
}

// Validate checks the protocol block in a single fail-fast pass.
func (p CalendarProtocol) Validate() error {
	if p.Version == "" {
		return BadRequest("no protocol version")
	}
	if p.Version != ProtocolVersionV1 {
		return BadRequest("unknown protocol version: %s", p.Version)
	}
	if p.URL == "" || p.DisplayName == "" {
		return BadRequest("incomplete protocol data")
	}
	if p.Access == AccessReadWrite {
		// Recognized but unsupported, kept distinct from unknown codes.
		return BadRequest("read-write access is not supported")
	}
	if p.Access != AccessReadOnly {
		return BadRequest("unsupported access value: %d", p.Access)
	}
	return nil
}

// ShareRequest is the OCM envelope of an incoming calendar share offer.
type ShareRequest struct {
	ShareWith         string           `json:"shareWith"`
	Name              string           `json:"name"`
	ProviderID        string           `json:"providerId"`
	Owner             string           `json:"owner"`
	OwnerDisplayName  string           `json:"ownerDisplayName,omitempty"`
	Sender            string           `json:"sender"`
	ShareType         string           `json:"shareType"`
	ResourceType      string           `json:"resourceType"`
	SharedSecret      string           `json:"sharedSecret"`
	Protocol          CalendarProtocol `json:"protocol"`
}

// SyncNotification is the payload of a SYNC_CALENDAR notification.
type SyncNotification struct {
	SharedSecret string `json:"sharedSecret"`
	ShareWith    string `json:"shareWith"`
	CalendarURL  string `json:"calendarUrl"`
}

// NotificationRequest is the OCM envelope of an incoming notification.
type NotificationRequest struct {
	NotificationType string           `json:"notificationType"`
	ResourceType     string           `json:"resourceType"`
	Notification     SyncNotification `json:"notification"`
}

// SyncTokenPrefix is the fixed prefix of sync continuation tokens. Tokens
// are the prefix followed by a nonnegative decimal integer; any other shape
// is a protocol violation.
const SyncTokenPrefix = "http://sabre.io/ns/sync/"

// FormatSyncToken renders the wire form of a stored token value. A stored
// value of 0 yields the initial-sync sentinel token.
func FormatSyncToken(n int64) string {
	return SyncTokenPrefix + strconv.FormatInt(n, 10)
}

// ParseSyncToken parses a wire token strictly. Empty suffixes, non-numeric
// suffixes, negative values, and wrong prefixes are all rejected.
func ParseSyncToken(token string) (int64, error) {
	suffix, ok := strings.CutPrefix(token, SyncTokenPrefix)
	if !ok || suffix == "" || suffix[0] < '0' || suffix[0] > '9' {
		return 0, BadRequest("malformed sync token: %q", token)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || n < 0 {
		return 0, BadRequest("malformed sync token: %q", token)
	}
	return n, nil
}

// RemoteCalendarURL builds the canonical URL under which a shared calendar
// is fetched by its remote sharee.
func RemoteCalendarURL(base, remoteCloudID, calendarURI, ownerUID string) string {
	return strings.TrimSuffix(base, "/") +
		"/dav/remote-calendars/" + identity.EncodeSegment(remoteCloudID) +
		"/" + calendarURI + "_shared_by_" + ownerUID
}
