package exam

import (
	"context"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type CreateLessonInput struct {
	Code        string   `json:"code" validate:"required,max=32"`
	Name        string   `json:"name" validate:"required"`
	VizeWeight  *float64 `json:"vize_weight" validate:"omitempty,gte=0,lte=100"`
	FinalWeight *float64 `json:"final_weight" validate:"omitempty,gte=0,lte=100"`
}

func (s *Service) CreateLesson(ctx context.Context, in CreateLessonInput) (Lesson, error) {
	if err := validate.Struct(in); err != nil {
		return Lesson{}, fromValidator(err)
	}
	w := grading.DefaultWeights()
	if in.VizeWeight != nil {
		w.Vize = *in.VizeWeight
	}
	if in.FinalWeight != nil {
		w.Final = *in.FinalWeight
	}
	if err := w.Validate(); err != nil {
		return Lesson{}, invalid("%v", err)
	}
	l := Lesson{ID: uuid.NewString(), Code: in.Code, Name: in.Name, Weights: w}
	if err := s.store.CreateLesson(ctx, l); err != nil {
		return Lesson{}, err
	}
	return l, nil
}

func (s *Service) AssignTeacher(ctx context.Context, lessonID, teacherID string) error {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return err
	}
	return s.store.AssignTeacher(ctx, lessonID, teacherID)
}

func (s *Service) EnrollStudent(ctx context.Context, lessonID, studentID string) error {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return err
	}
	return s.store.EnrollStudent(ctx, lessonID, studentID)
}

// LessonGrades is the teacher's grade sheet: every enrolled student, scored or not.
func (s *Service) LessonGrades(ctx context.Context, actor Actor, lessonID string) ([]LessonGradeRow, error) {
	if _, err := s.store.GetLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	if err := s.requireTeaching(ctx, actor, lessonID); err != nil {
		return nil, err
	}
	return s.store.ListLessonGrades(ctx, lessonID)
}

// StudentGrades lists the student's lessons with their grade and the class
// average of the totals computed so far.
func (s *Service) StudentGrades(ctx context.Context, studentID string) ([]StudentLessonGrade, error) {
	return s.store.ListStudentGrades(ctx, studentID)
}

func (s *Service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return s.store.GetLesson(ctx, id)
}
