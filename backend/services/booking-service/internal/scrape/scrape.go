// Package scrape pulls values out of the inline scripts of upstream HTML pages.
package scrape

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ScriptText returns the concatenated contents of every <script> element in body. Bodies without
// script elements (bare JS fragments) are returned as-is.
func ScriptText(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}

	var sb strings.Builder
	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			found = true
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
					sb.WriteByte('\n')
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !found {
		return string(body)
	}
	return sb.String()
}

// Var returns the single-quoted string assigned to a top level JS variable:
//
//	var name = 'value';
func Var(script, name string) (string, bool) {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*=\s*'([^']*)'`)
	m := re.FindStringSubmatch(script)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Field returns the single-quoted value of a key inside a JS object literal:
//
//	{'key':'value', ...}
func Field(script, key string) (string, bool) {
	re := regexp.MustCompile(`'` + regexp.QuoteMeta(key) + `'\s*:\s*'([^']*)'`)
	m := re.FindStringSubmatch(script)
	if m == nil {
		return "", false
	}
	return m[1], true
}
