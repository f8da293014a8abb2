package extractor

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// DOCX and PPTX are OPC zip archives. Text lives in <w:t>/<a:t> runs,
// grouped into <w:p>/<a:p> paragraphs.

func extractWordDocument(filePath string) (string, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if entry.Name != "word/document.xml" {
			continue
		}
		text, err := extractRunText(entry)
		if err != nil {
			return "", err
		}
		return text, nil
	}
	return "", fmt.Errorf("word/document.xml missing from archive")
}

func extractPresentation(filePath string) (string, int, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("open pptx archive: %w", err)
	}
	defer archive.Close()

	var slides []*zip.File
	for _, entry := range archive.File {
		if strings.HasPrefix(entry.Name, "ppt/slides/") && path.Ext(entry.Name) == ".xml" {
			slides = append(slides, entry)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Name < slides[j].Name })

	var sb strings.Builder
	for _, slide := range slides {
		text, err := extractRunText(slide)
		if err != nil {
			return "", 0, err
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), len(slides), nil
}

func extractRunText(entry *zip.File) (string, error) {
	reader, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer reader.Close()

	decoder := xml.NewDecoder(reader)
	var sb strings.Builder
	inRun := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", entry.Name, err)
		}
		switch tok := token.(type) {
		case xml.StartElement:
			if tok.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			switch tok.Name.Local {
			case "t":
				inRun = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inRun {
				sb.Write(tok)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
