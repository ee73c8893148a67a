package model

// Student is a student account ingested from the institution's records.
type Student struct {
	ID           int    `json:"id"`
	RegisterNo   string `json:"register_no"`
	Name         string `json:"name"`
	Department   string `json:"department"`
	Batch        string `json:"batch"`
	Section      string `json:"section,omitempty"`
	PasswordHash string `json:"-"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	RegisterNo string `json:"register_no" binding:"required,min=4,max=30"`
	Password   string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after a successful student login.
type StudentLoginResponse struct {
	Token     string         `json:"token"`
	Student   Student        `json:"student"`
	CanResume bool           `json:"can_resume"`
	Session   *SessionStatus `json:"session,omitempty"`
}
