package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// The jar only answers "which cookies apply to this URL", so export walks the paths the site
// scopes its cookies to.
var cookiePaths = []string{"/", "/otn/", "/passport/"}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Path  string `json:"path"`
}

// ExportCookies serializes the cookies the jar would send to the base host.
func (c *Client) ExportCookies() ([]byte, error) {
	seen := make(map[string]string)
	var out []storedCookie
	for _, p := range cookiePaths {
		u := *c.base
		u.Path = p
		for _, ck := range c.jar.Cookies(&u) {
			if v, ok := seen[ck.Name]; ok && v == ck.Value {
				continue
			}
			seen[ck.Name] = ck.Value
			out = append(out, storedCookie{Name: ck.Name, Value: ck.Value, Path: p})
		}
	}
	return json.Marshal(out)
}

// ImportCookies restores cookies written by ExportCookies.
func (c *Client) ImportCookies(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("upstream: decode cookies: %w", err)
	}
	byPath := make(map[string][]*http.Cookie)
	for _, sc := range stored {
		path := sc.Path
		if path == "" {
			path = "/"
		}
		byPath[path] = append(byPath[path], &http.Cookie{Name: sc.Name, Value: sc.Value, Path: path})
	}
	for path, cookies := range byPath {
		u := *c.base
		u.Path = path
		c.jar.SetCookies(&u, cookies)
	}
	return nil
}
