package extractor

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
)

func extractHTML(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open html: %w", err)
	}
	defer file.Close()

	root, err := html.Parse(file)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return sb.String(), title, nil
}
