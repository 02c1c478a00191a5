package federation

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

// ShareAuthenticator verifies inbound Basic-auth requests on the
// remote-calendars endpoint against stored outgoing shares.
type ShareAuthenticator struct {
	Shares store.OutgoingShareRepository
}

// Auth failure messages. Secret, calendar, and sharer mismatches all share
// one message so a probing caller cannot tell which part failed.
const (
	msgNotFederated   = "not a federated calendar request"
	msgNoBasicHeader  = "no Basic header"
	msgBadCredentials = "username or password incorrect"
)

// RemotePath is a parsed remote-calendars request path.
type RemotePath struct {
	EncodedIdentity string
	CalendarURI     string
	SharerUID       string
	// ObjectURI is the trailing object segment, empty for collection
	// requests.
	ObjectURI string
}

// ParseRemoteCalendarPath splits a request path of the shape
// remote-calendars/<encodedIdentity>/<calendarUri>_shared_by_<sharerUid>,
// tolerating a leading slash and a trailing object segment.
func ParseRemoteCalendarPath(requestPath string) (RemotePath, bool) {
	parts := strings.Split(strings.TrimPrefix(requestPath, "/"), "/")
	if len(parts) < 3 || parts[0] != "remote-calendars" || parts[1] == "" {
		return RemotePath{}, false
	}
	marker := strings.LastIndex(parts[2], "_shared_by_")
	if marker <= 0 {
		return RemotePath{}, false
	}
	p := RemotePath{
		EncodedIdentity: parts[1],
		CalendarURI:     parts[2][:marker],
		SharerUID:       parts[2][marker+len("_shared_by_"):],
	}
	if p.SharerUID == "" {
		return RemotePath{}, false
	}
	if len(parts) > 3 && parts[3] != "" {
		p.ObjectURI = parts[3]
	}
	return p, true
}

// Check authenticates one request. The Basic username (an encoded remote
// identity) is authoritative for the principal lookup; the path segment is
// only the address.
func (a *ShareAuthenticator) Check(ctx context.Context, requestPath, authorization string) (bool, string) {
	rp, ok := ParseRemoteCalendarPath(requestPath)
	if !ok {
		return false, msgNotFederated
	}

	creds, ok := strings.CutPrefix(authorization, "Basic ")
	if !ok {
		return false, msgNoBasicHeader
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(creds))
	if err != nil {
		return false, msgNoBasicHeader
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false, msgNoBasicHeader
	}

	grants, err := a.Shares.FindGrants(ctx, identity.RemotePrincipalPrefix+username, password)
	if err != nil {
		// Infra failure, not a credential mismatch. The caller still gets
		// the uniform rejection message.
		log.Error().Err(err).Str("path", requestPath).Msg("share grant lookup failed")
		return false, msgBadCredentials
	}
	for _, g := range grants {
		if g.CalendarURI == rp.CalendarURI && g.OwnerUID == rp.SharerUID {
			return true, ""
		}
	}
	return false, msgBadCredentials
}
