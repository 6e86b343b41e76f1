package model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteCSVSkillsAndLeague(t *testing.T) {
	incidents := []*Incident{
		{
			ID: "i1", EventSKU: "RE-VRC-24-1234", Team: "1234A",
			Match:     &MatchReference{Skills: &SkillsAttemptRef{SkillsType: "programming", Attempt: 2}},
			Outcome:   OutcomeMinor,
			Rules:     []string{"<SG1>", "<G9>"},
			Notes:     "line one\r\nline two\twith tab",
			Timestamp: "2026-03-05T14:30:00Z",
		},
		{
			ID: "i2", EventSKU: "RE-VRC-24-1234", Team: "5678B",
			Match:     &MatchReference{League: &LeagueMatchRef{Division: 2, Name: "Qualifier 12", ID: 99}},
			Outcome:   OutcomeGeneral,
			Timestamp: "2026-03-05T15:00:00Z",
		},
		{
			ID: "i3", EventSKU: "RE-VRC-24-1234", Team: "1111C",
			Outcome:   OutcomeMajor,
			Timestamp: "2026-03-05T15:05:00Z",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, incidents))
	out := buf.String()

	require.Contains(t, out, "Date,Time,ID,SKU,Division,Match,Team,Outcome,Rules,Notes")
	require.Contains(t, out, "Auto Skills 2")
	require.Contains(t, out, "Qualifier 12")
	require.Contains(t, out, "line one line two with tab")
	require.NotContains(t, out, "\t")
}

func TestScratchpadIDDeterministic(t *testing.T) {
	a := ScratchpadID("RE-VRC-24-1234", 1, "Qualifier 5")
	b := ScratchpadID("RE-VRC-24-1234", 1, "Qualifier 5")
	c := ScratchpadID("RE-VRC-24-1234", 1, "Qualifier 6")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
