// Package caldav implements the outbound CalDAV surface of federation:
// pulling changes from a sharer's calendar with sync-collection REPORTs
// and pushing writes back with authenticated PUT/DELETE.
package caldav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/emersion/go-ical"
	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

const davNS = "DAV:"

// Client talks CalDAV to remote federation peers. It implements
// federation.SyncPuller and federation.RemoteWriter.
type Client struct {
	HTTP    *http.Client
	Objects store.FederatedObjectRepository

	// ServerHost is this server's federation host, used to build the
	// Basic username a peer expects from us.
	ServerHost string
}

// New returns a client with a bounded request timeout.
func New(objects store.FederatedObjectRepository, serverHost string) *Client {
	return &Client{
		HTTP:       &http.Client{Timeout: 60 * time.Second},
		Objects:    objects,
		ServerHost: serverHost,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func syncReportBody(token string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("d:sync-collection")
	root.CreateAttr("xmlns:d", davNS)
	root.CreateAttr("xmlns:cal", "urn:ietf:params:xml:ns:caldav")
	root.CreateElement("d:sync-token").SetText(token)
	root.CreateElement("d:sync-level").SetText("1")
	prop := root.CreateElement("d:prop")
	prop.CreateElement("d:getetag")
	prop.CreateElement("cal:calendar-data")
	return doc.WriteToBytes()
}

// remoteChange is one response element of a sync REPORT multistatus.
type remoteChange struct {
	uri     string
	etag    string
	data    string
	deleted bool
}

func parseMultistatus(body []byte) (token string, changes []remoteChange, err error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return "", nil, fmt.Errorf("parse multistatus: %w", err)
	}
	ms := doc.Root()
	if ms == nil {
		return "", nil, fmt.Errorf("parse multistatus: empty document")
	}
	for _, resp := range ms.FindElements("./response") {
		href := resp.FindElement("./href")
		if href == nil || href.Text() == "" {
			continue
		}
		ch := remoteChange{uri: path.Base(strings.TrimSuffix(href.Text(), "/"))}
		if st := resp.FindElement("./status"); st != nil && strings.Contains(st.Text(), "404") {
			ch.deleted = true
			changes = append(changes, ch)
			continue
		}
		for _, ps := range resp.FindElements("./propstat") {
			st := ps.FindElement("./status")
			if st == nil || !strings.Contains(st.Text(), "200") {
				continue
			}
			if et := ps.FindElement("./prop/getetag"); et != nil {
				ch.etag = strings.Trim(et.Text(), `"`)
			}
			if cd := ps.FindElement("./prop/calendar-data"); cd != nil {
				ch.data = cd.Text()
			}
		}
		changes = append(changes, ch)
	}
	if tok := ms.FindElement("./sync-token"); tok != nil {
		token = tok.Text()
	}
	return token, changes, nil
}

// ExtractUID pulls the UID of the first component of an iCalendar payload.
// A payload go-ical cannot parse is mirrored with an empty UID rather than
// rejected; the sharer is authoritative for the bytes.
func ExtractUID(data string) string {
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return ""
	}
	for _, child := range cal.Children {
		if prop := child.Props.Get(ical.PropUID); prop != nil {
			return prop.Value
		}
	}
	return ""
}

// Pull runs one sync-collection REPORT against req.URL and applies the
// returned changes to the local mirror.
func (c *Client) Pull(ctx context.Context, req federation.PullRequest) (string, int, error) {
	body, err := syncReportBody(req.SyncToken)
	if err != nil {
		return "", 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, "REPORT", req.URL, strings.NewReader(string(body)))
	if err != nil {
		return "", 0, err
	}
	httpReq.SetBasicAuth(req.Username, req.Password)
	httpReq.Header.Set("Content-Type", "application/xml; charset=utf-8")
	httpReq.Header.Set("Depth", "0")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("sync report against %s: status %d", req.URL, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}

	token, changes, err := parseMultistatus(raw)
	if err != nil {
		return "", 0, err
	}

	applied := 0
	for _, ch := range changes {
		if ch.deleted {
			if err := c.Objects.Delete(ctx, req.RecordID, ch.uri); err != nil {
				return "", applied, err
			}
			applied++
			continue
		}
		data := ch.data
		if data == "" {
			data, err = c.fetchObject(ctx, req, ch.uri)
			if err != nil {
				log.Warn().Err(err).Str("uri", ch.uri).Msg("fetching changed object failed, skipping")
				continue
			}
		}
		_, err := c.Objects.Upsert(ctx, store.FederatedObject{
			CalendarID: req.RecordID,
			URI:        ch.uri,
			UID:        ExtractUID(data),
			ETag:       ch.etag,
			Data:       data,
		})
		if err != nil {
			return "", applied, err
		}
		applied++
	}
	return token, applied, nil
}

// fetchObject GETs a single object when the REPORT response omitted its
// calendar-data.
func (c *Client) fetchObject(ctx context.Context, req federation.PullRequest, uri string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(req.URL, "/")+"/"+uri, nil)
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(req.Username, req.Password)
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: status %d", uri, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Client) username(rec federation.RemoteTarget) string {
	return identity.EncodeSegment(rec.Principal + "@" + c.ServerHost)
}

// Put uploads one object to the sharer's calendar and returns the ETag the
// sharer assigned, if any.
func (c *Client) Put(ctx context.Context, rec federation.RemoteTarget, objectURI, data string) (string, error) {
	url := strings.TrimSuffix(rec.URL, "/") + "/" + objectURI
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(c.username(rec), rec.SharedSecret)
	httpReq.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("put %s: status %d", objectURI, resp.StatusCode)
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Delete removes one object from the sharer's calendar. A 404 from the
// sharer counts as success; the object is gone either way.
func (c *Client) Delete(ctx context.Context, rec federation.RemoteTarget, objectURI string) error {
	url := strings.TrimSuffix(rec.URL, "/") + "/" + objectURI
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(c.username(rec), rec.SharedSecret)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delete %s: status %d", objectURI, resp.StatusCode)
	}
	return nil
}

var _ federation.SyncPuller = (*Client)(nil)
var _ federation.RemoteWriter = (*Client)(nil)
