package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/estrateji/satchel/internal/domain"
)

// id accepts both numeric and string identifiers
type id string

func (i *id) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*i = id(strings.TrimSpace(n.String()))
	return nil
}

type pageMeta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// courseListResponse is the paginated listing. Older servers answer with a bare array instead.
type courseListResponse struct {
	Items []courseDTO `json:"items"`
	Meta  *pageMeta   `json:"meta"`
}

func decodeCourseList(data []byte) ([]courseDTO, domain.Page, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []courseDTO
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, domain.Page{}, err
		}
		return items, singlePage(len(items)), nil
	}

	var resp courseListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, domain.Page{}, err
	}
	if resp.Meta == nil {
		return resp.Items, singlePage(len(resp.Items)), nil
	}
	m := *resp.Meta
	page := domain.Page{Number: m.Page, PerPage: m.PerPage, Total: m.Total, Pages: m.Pages}
	if page.Pages == 0 && page.PerPage > 0 {
		page.Pages = (page.Total + page.PerPage - 1) / page.PerPage
	}
	return resp.Items, page, nil
}

func singlePage(n int) domain.Page {
	return domain.Page{Number: 1, PerPage: n, Total: n, Pages: 1}
}

type courseDTO struct {
	ID          id     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type courseDetailDTO struct {
	courseDTO
	Books     []bookDTO     `json:"books"`
	Lectures  []lectureDTO  `json:"lectures"`
	Exercises []exerciseDTO `json:"exercises"`
	Quizzes   []exerciseDTO `json:"quizzes"`
}

type bookDTO struct {
	ID     id     `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	PDFURL string `json:"pdf_url"`
}

type lectureDTO struct {
	ID         id     `json:"id"`
	Title      string `json:"title"`
	ContentURL string `json:"content_url"`
}

// exerciseDTO is shared by exercises and quizzes
type exerciseDTO struct {
	ID          id     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type quizRefDTO struct {
	ID id `json:"id"`
}

type moduleDTO struct {
	ID          id          `json:"id"`
	CourseID    id          `json:"course_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	VideoURL    string      `json:"video_url"`
	Transcript  string      `json:"transcript"`
	Order       int         `json:"order"`
	QuizID      id          `json:"quiz_id"`
	Quiz        *quizRefDTO `json:"quiz"`
}
