// Package directory reads every supported document below a data path.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

type extractFunc func(path string) (string, error)

type Reader struct {
	extractors map[string]extractFunc
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		extractors: map[string]extractFunc{
			".txt":  readPlainText,
			".md":   readPlainText,
			".pdf":  readPDF,
			".xlsx": readXLSX,
		},
		logger: logger,
	}
}

// Read walks path recursively in lexical order. Unsupported files and files
// without text are skipped; a file that fails to parse fails the read.
func (r *Reader) Read(ctx context.Context, path string) ([]domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat data path: %w", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read documents", fmt.Errorf("%s is not a directory", path))
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := r.extractors[strings.ToLower(filepath.Ext(p))]; ok && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data path: %w", err)
	}
	slices.Sort(files)

	docs := make([]domain.Document, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext := strings.ToLower(filepath.Ext(file))
		text, err := r.extractors[ext](file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			r.logger.Warn("document_skipped", "path", file, "reason", "no text")
			continue
		}
		rel, err := filepath.Rel(path, file)
		if err != nil {
			rel = file
		}
		rel = filepath.ToSlash(rel)
		docs = append(docs, domain.Document{
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte("file:"+rel)).String(),
			Source: rel,
			Text:   text,
			Metadata: map[string]string{
				"file_name": filepath.Base(file),
				"file_type": strings.TrimPrefix(ext, "."),
			},
		})
	}
	r.logger.Info("documents_read", "path", path, "files", len(files), "documents", len(docs))
	return docs, nil
}

func readPlainText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("not valid UTF-8 text")
	}
	return string(raw), nil
}

func readPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// readXLSX renders every sheet row as one tab-separated line.
func readXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
