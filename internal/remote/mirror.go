package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"novelhub/pkg/models"
)

// Mirror reads works from another novelhub mirror-server.
//
// A mirror remote proxies one upstream source of that server: the local
// address "<Name>/<nid>" maps to "<Upstream>/<nid>" on the server.
//
//	GET {BaseURL}/works/{upstream}/{nid}                 -> models.Info
//	GET {BaseURL}/works/{upstream}/{nid}/catalog         -> models.Toc
//	GET {BaseURL}/works/{upstream}/{nid}/chapters/{cid}  -> text/plain body
type Mirror struct {
	RemoteName string
	BaseURL    string
	Upstream   string
	Token      string // optional bearer token
	Client     *http.Client
}

// NewMirror creates a new Mirror.
func NewMirror(name, baseURL, upstream, token string, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if upstream == "" {
		upstream = name
	}
	return &Mirror{
		RemoteName: name,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Upstream:   upstream,
		Token:      token,
		Client:     &http.Client{Timeout: timeout},
	}
}

func (m *Mirror) Name() string { return m.RemoteName }

func (m *Mirror) Info(ctx context.Context, addr models.Address) (models.Info, error) {
	var info models.Info
	if err := m.getJSON(ctx, m.workURL(addr), "", &info); err != nil {
		return models.Info{}, err
	}
	info.Source, info.NID = addr.Source(), addr.NID()
	return info, nil
}

func (m *Mirror) Catalog(ctx context.Context, addr models.Address) (models.Toc, error) {
	var toc models.Toc
	if err := m.getJSON(ctx, m.workURL(addr)+"/catalog", "", &toc); err != nil {
		return models.Toc{}, err
	}
	if err := checkToc(m.RemoteName, toc); err != nil {
		return models.Toc{}, err
	}
	return toc, nil
}

func (m *Mirror) Content(ctx context.Context, addr models.Address, cid string) (string, error) {
	body, err := m.get(ctx, m.workURL(addr)+"/chapters/"+url.PathEscape(cid), cid)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (m *Mirror) workURL(addr models.Address) string {
	return m.BaseURL + "/works/" + url.PathEscape(m.Upstream) + "/" + url.PathEscape(addr.NID())
}

func (m *Mirror) getJSON(ctx context.Context, u, cid string, out any) error {
	body, err := m.get(ctx, u, cid)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Source: m.RemoteName, ChapterID: cid, Reason: "decode json", Err: err}
	}
	return nil
}

func (m *Mirror) get(ctx context.Context, u, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", m.RemoteName, err)
	}
	if m.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.Token)
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: m.RemoteName, ChapterID: cid, Reason: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: m.RemoteName, ChapterID: cid, Reason: "read body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Source:    m.RemoteName,
			ChapterID: cid,
			Reason:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}
