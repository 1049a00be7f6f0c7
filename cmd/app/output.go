package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/paperservice"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

type printer struct {
	w      io.Writer
	format string
}

func newPrinter(format string) (printer, error) {
	switch format {
	case formatText, formatJSON, formatYAML:
		return printer{w: os.Stdout, format: format}, nil
	}
	return printer{}, fmt.Errorf("unknown output format %q", format)
}

func (p printer) print(v any) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(p.w, v)
	default:
		return writeText(p.w, v)
	}
}

// writeYAML renders v with its JSON field names. The JSON form is parsed
// into a node tree so key order survives, then re-emitted in block style.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	// JSON strings arrive double-quoted; let the encoder pick.
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func writeText(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch x := v.(type) {
	case models.SearchPage:
		for _, p := range x.Papers {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, truncate(p.Title, 70), strings.Join(p.Categories, ","))
		}
		fmt.Fprintf(tw, "page %d, %d results", x.Page, x.Total)
		if x.Approximate != nil && *x.Approximate {
			fmt.Fprint(tw, " (approximate)")
		}
		fmt.Fprintln(tw)
	case models.Paper:
		writePaper(tw, x)
	case []models.Recommendation:
		for i, r := range x {
			score := ""
			if r.Score != nil {
				score = fmt.Sprintf("%.3f", *r.Score)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, r.Paper.ID, truncate(r.Paper.Title, 60), score)
		}
	case []models.Bookmark:
		if len(x) == 0 {
			fmt.Fprintln(tw, "no bookmarks")
		}
		for _, b := range x {
			title := ""
			if b.Paper != nil {
				title = truncate(b.Paper.Title, 60)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.PaperID, title, b.Notes)
		}
	case models.Bookmark:
		fmt.Fprintf(tw, "%s\t%s\t%s\n", x.ID, x.PaperID, x.Notes)
	case []models.SearchHistoryEntry:
		for _, h := range x {
			at := "-"
			if h.SearchedAt != nil {
				at = h.SearchedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\n", at, h.Query)
		}
	case models.InterestSet:
		if len(x) == 0 {
			fmt.Fprintln(tw, "no interests")
		}
		for _, c := range x {
			fmt.Fprintln(tw, c)
		}
	case paperservice.SessionInfo:
		if !x.Auth.IsLoggedIn {
			fmt.Fprintln(tw, "not logged in")
			break
		}
		fmt.Fprintf(tw, "username\t%s\n", x.Auth.Username)
		if x.Auth.Name != "" {
			fmt.Fprintf(tw, "name\t%s\n", x.Auth.Name)
		}
		if x.Auth.UserID != "" {
			fmt.Fprintf(tw, "user id\t%s\n", x.Auth.UserID)
		}
	case string:
		fmt.Fprintln(tw, x)
	default:
		if err := tw.Flush(); err != nil {
			return err
		}
		return writeYAML(w, v)
	}
	return tw.Flush()
}

func writePaper(w io.Writer, p models.Paper) {
	fmt.Fprintf(w, "id\t%s\n", p.ID)
	fmt.Fprintf(w, "title\t%s\n", p.Title)
	fmt.Fprintf(w, "authors\t%s\n", strings.Join(p.Authors, ", "))
	if p.Year != "" {
		fmt.Fprintf(w, "year\t%s\n", p.Year)
	}
	if len(p.Categories) > 0 {
		fmt.Fprintf(w, "categories\t%s\n", strings.Join(p.Categories, ", "))
	}
	if p.Journal != "" {
		fmt.Fprintf(w, "journal\t%s\n", p.Journal)
	}
	if p.ExternalURL != "" {
		fmt.Fprintf(w, "url\t%s\n", p.ExternalURL)
	}
	if p.Summary != nil && !p.Summary.IsZero() {
		fmt.Fprintf(w, "summary\t%s\n", p.Summary.Best())
	} else if p.Abstract != "" {
		fmt.Fprintf(w, "abstract\t%s\n", p.Abstract)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
