package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

const gradeSheet = "Sheet1"

// WriteGrades renders a lesson grade sheet as an .xlsx workbook. Missing
// scores stay as empty cells.
func WriteGrades(w io.Writer, lesson exam.Lesson, rows []exam.LessonGradeRow) error {
	f := excelize.NewFile()
	defer f.Close()

	title := fmt.Sprintf("%s %s (vize %.0f%% / final %.0f%%)", lesson.Code, lesson.Name, lesson.Vize, lesson.Final)
	if err := f.SetCellValue(gradeSheet, "A1", title); err != nil {
		return err
	}
	header := []interface{}{"Student No", "Username", "Full Name", "Vize", "Final", "Quiz", "Total"}
	if err := f.SetSheetRow(gradeSheet, "A2", &header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return err
		}
		line := []interface{}{r.StudentNumber, r.Username, r.FullName, score(r.Vize), score(r.Final), score(r.Quiz), score(r.Total)}
		if err := f.SetSheetRow(gradeSheet, cell, &line); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func score(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
