package api

import "kanban-api/domain"

const requestMaxSize = 64 * 1024 // 64 KiB

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type createCardRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Absent fields mean "leave unchanged".
type updateCardRequest struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

type moveRequest struct {
	Position *int `json:"position"`
}

type moveCardRequest struct {
	ListID   string `json:"listId"`
	Position *int   `json:"position"`
}
