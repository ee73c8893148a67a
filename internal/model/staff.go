package model

import "time"

// Staff is an account allowed to administer schedules.
type Staff struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StaffLoginRequest is the payload for staff authentication.
type StaffLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// StaffLoginResponse is returned after a successful staff login.
type StaffLoginResponse struct {
	Token string `json:"token"`
	Staff Staff  `json:"staff"`
}
