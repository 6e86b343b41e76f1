package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

var csvHeader = []string{"Date", "Time", "ID", "SKU", "Division", "Match", "Team", "Outcome", "Rules", "Notes"}

var notesReplacer = strings.NewReplacer("\r\n", " ", "\t", " ", "\r", " ", "\n", " ")

// matchColumn renders the Match column: "<Auto|Driver> Skills <n>" for
// skills attempts, the league match name otherwise, empty for incidents
// with no match reference.
func matchColumn(m *MatchReference) string {
	if m == nil {
		return ""
	}
	if m.Skills != nil {
		kind := "Driver"
		if m.Skills.SkillsType == "programming" {
			kind = "Auto"
		}
		return fmt.Sprintf("%s Skills %d", kind, m.Skills.Attempt)
	}
	if m.League != nil {
		return m.League.Name
	}
	return ""
}

func divisionColumn(m *MatchReference) string {
	if m != nil && m.League != nil {
		return fmt.Sprintf("%d", m.League.Division)
	}
	return ""
}

// WriteCSV writes the incidents as CSV: one header row, Date/Time split
// from the RFC3339 timestamp, notes with CR/LF/TAB folded to spaces,
// rules space-joined.
func WriteCSV(w io.Writer, incidents []*Incident) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, inc := range incidents {
		date, timeOfDay := splitTimestamp(inc.Timestamp)
		row := []string{
			date,
			timeOfDay,
			inc.ID,
			inc.EventSKU,
			divisionColumn(inc.Match),
			matchColumn(inc.Match),
			inc.Team,
			string(inc.Outcome),
			strings.Join(inc.Rules, " "),
			notesReplacer.Replace(inc.Notes),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func splitTimestamp(ts string) (date, timeOfDay string) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", ""
	}
	return t.Format("2006-01-02"), t.Format("15:04:05")
}
