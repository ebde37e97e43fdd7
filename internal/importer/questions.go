// Package importer reads question pools from spreadsheets and writes grade
// sheets back out.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

var ErrUnsupportedFormat = errors.New("unsupported file type: expected .xlsx or .csv")

// columns in positional order, used when the sheet has no recognizable header
var questionColumns = []string{"question_text", "option_a", "option_b", "option_c", "option_d", "correct_answer"}

// header aliases seen in teacher-made sheets
var headerAliases = map[string]string{
	"question":       "question_text",
	"question_text":  "question_text",
	"soru":           "question_text",
	"a":              "option_a",
	"option_a":       "option_a",
	"b":              "option_b",
	"option_b":       "option_b",
	"c":              "option_c",
	"option_c":       "option_c",
	"d":              "option_d",
	"option_d":       "option_d",
	"answer":         "correct_answer",
	"correct":        "correct_answer",
	"correct_answer": "correct_answer",
	"cevap":          "correct_answer",
}

// ParseQuestions reads question rows from an .xlsx (first sheet) or .csv
// upload. Row validation is left to the pool; blank rows are dropped, and each
// input keeps the sheet row it came from.
func ParseQuestions(r io.Reader, filename string) ([]exam.QuestionInput, error) {
	var (
		rows  [][]string
		lines []int // sheet row of each record when not simply index+1
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		rows, err = f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	case ".csv":
		cr := csv.NewReader(r)
		cr.TrimLeadingSpace = true
		cr.FieldsPerRecord = -1
		// the reader skips empty lines, so line numbers come from FieldPos
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			line, _ := cr.FieldPos(0)
			rows = append(rows, rec)
			lines = append(lines, line)
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	return rowsToQuestions(rows, lines), nil
}

func rowsToQuestions(rows [][]string, lines []int) []exam.QuestionInput {
	if len(rows) == 0 {
		return nil
	}
	idx, hasHeader := headerIndex(rows[0])
	first := 0
	if hasHeader {
		first = 1
	}
	out := make([]exam.QuestionInput, 0, len(rows))
	for n := first; n < len(rows); n++ {
		rec := rows[n]
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		q := exam.QuestionInput{
			Prompt:        get("question_text"),
			OptionA:       get("option_a"),
			OptionB:       get("option_b"),
			OptionC:       get("option_c"),
			OptionD:       get("option_d"),
			CorrectAnswer: get("correct_answer"),
		}
		if q == (exam.QuestionInput{}) {
			continue
		}
		q.SourceRow = n + 1
		if lines != nil {
			q.SourceRow = lines[n]
		}
		out = append(out, q)
	}
	return out
}

func headerIndex(first []string) (map[string]int, bool) {
	idx := map[string]int{}
	for i, h := range first {
		key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(h, " ", "_")))
		if col, ok := headerAliases[key]; ok {
			if _, dup := idx[col]; !dup {
				idx[col] = i
			}
		}
	}
	if _, ok := idx["question_text"]; ok && len(idx) >= 3 {
		return idx, true
	}
	pos := map[string]int{}
	for i, c := range questionColumns {
		pos[c] = i
	}
	return pos, false
}
