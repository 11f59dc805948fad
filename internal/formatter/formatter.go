// Package formatter renders query results for the CLI as plain text, CSV or
// JSON.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"soundmesh/internal/models"
)

// FormatText renders one result set as an aligned, human-readable listing.
func FormatText(result *models.QueryResult) []byte {
	var buf bytes.Buffer

	for i, item := range result.Items {
		line := fmt.Sprintf("%3d. [%s] %s", i+1, item.Kind, item.Name)
		if len(item.ArtistNames) > 0 {
			line += " — " + strings.Join(item.ArtistNames, ", ")
		}
		if item.Kind == models.KindAlbum && item.Year > 0 {
			line += fmt.Sprintf(" (%d)", item.Year)
		}
		if item.Kind == models.KindTrack && item.Runtime > 0 {
			line += " [" + FormatRuntime(item) + "]"
		}
		if item.Favorite {
			line += " ♥"
		}
		buf.WriteString(line + "\n")
	}

	buf.WriteString(fmt.Sprintf("\n%d of %d results\n", len(result.Items), result.Total))
	return buf.Bytes()
}

// FormatCSV renders one result set with columns:
// ID, Kind, Name, Artists, Year, Runtime, Origin.
func FormatCSV(result *models.QueryResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Kind", "Name", "Artists", "Year", "Runtime", "Origin"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, item := range result.Items {
		record := []string{
			item.ID.String(),
			string(item.Kind),
			item.Name,
			strings.Join(item.ArtistNames, "; "),
			strconv.Itoa(item.Year),
			FormatRuntime(item),
			item.Origin,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// FormatJSON renders one result set as indented JSON.
func FormatJSON(result *models.QueryResult) ([]byte, error) {
	type jsonItem struct {
		ID       string   `json:"id"`
		Kind     string   `json:"kind"`
		Name     string   `json:"name"`
		Artists  []string `json:"artists,omitempty"`
		Year     int      `json:"year,omitempty"`
		Runtime  string   `json:"runtime,omitempty"`
		Origin   string   `json:"origin"`
		Favorite bool     `json:"favorite,omitempty"`
	}
	type jsonResult struct {
		Items []jsonItem `json:"items"`
		Total int        `json:"total"`
	}

	out := jsonResult{Total: result.Total, Items: make([]jsonItem, 0, len(result.Items))}
	for _, item := range result.Items {
		ji := jsonItem{
			ID:       item.ID.String(),
			Kind:     string(item.Kind),
			Name:     item.Name,
			Artists:  item.ArtistNames,
			Year:     item.Year,
			Origin:   item.Origin,
			Favorite: item.Favorite,
		}
		if item.Runtime > 0 {
			ji.Runtime = FormatRuntime(item)
		}
		out.Items = append(out.Items, ji)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return data, nil
}

// FormatRuntime renders an item's run length as m:ss; empty when unset.
func FormatRuntime(item *models.MediaItem) string {
	if item.Runtime <= 0 {
		return ""
	}
	total := int(item.Runtime.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
