package api

import "github.com/estrateji/satchel/internal/domain"

func mapCourse(dto courseDTO) domain.Course {
	return domain.Course{ID: string(dto.ID), Title: dto.Title}
}

func mapCourseDetail(dto courseDetailDTO) *domain.CourseDetail {
	d := &domain.CourseDetail{ID: string(dto.ID), Title: dto.Title}
	for _, b := range dto.Books {
		desc := ""
		if b.Author != "" {
			desc = "by " + b.Author
		}
		d.Books = append(d.Books, domain.Resource{ID: string(b.ID), Title: b.Title, Description: desc, URL: b.PDFURL})
	}
	for _, l := range dto.Lectures {
		d.Lectures = append(d.Lectures, domain.Resource{ID: string(l.ID), Title: l.Title, URL: l.ContentURL})
	}
	for _, e := range dto.Exercises {
		d.Exercises = append(d.Exercises, domain.Resource{ID: string(e.ID), Title: e.Title, Description: e.Description})
	}
	for _, q := range dto.Quizzes {
		d.Quizzes = append(d.Quizzes, domain.Resource{ID: string(q.ID), Title: q.Title, Description: q.Description})
	}
	return d
}

func mapModule(dto moduleDTO) *domain.CachedModule {
	m := &domain.CachedModule{
		ID:          string(dto.ID),
		CourseID:    string(dto.CourseID),
		Order:       dto.Order,
		Title:       dto.Title,
		Description: dto.Description,
		VideoURL:    dto.VideoURL,
		Transcript:  dto.Transcript,
	}
	switch {
	case dto.QuizID != "":
		m.QuizIDs = []string{string(dto.QuizID)}
	case dto.Quiz != nil && dto.Quiz.ID != "":
		m.QuizIDs = []string{string(dto.Quiz.ID)}
	}
	return m
}
